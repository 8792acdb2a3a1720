// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the tuners, the registries and the stream endpoints over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/api/middleware"
	"github.com/ManuGH/tunerd/internal/health"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

// Request headers understood by the stream endpoints.
const (
	HeaderPriority = "X-Tunerd-Priority"
	HeaderUserID   = "X-Tunerd-User-Id"
	HeaderTuner    = "X-Tunerd-Tuner-Index"
)

// Config configures the HTTP surface.
type Config struct {
	// RateLimit is the number of requests per minute allowed per client IP. 0 disables limiting.
	RateLimit int
	// TracingService names the server in traces. Empty disables HTTP tracing.
	TracingService string
}

// Deps are the components the API serves.
type Deps struct {
	Tuner    *tuner.Tuner
	Channels *registry.Channels
	Services *registry.Services
	// Programs is optional; program endpoints answer 404 without it.
	Programs *registry.Programs
	// Health backs /healthz and /readyz. Nil serves an empty manager.
	Health *health.Manager
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	if s.deps.Health == nil {
		s.deps.Health = health.NewManager("")
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
		}

		r.Get("/tuners", s.handleTuners)
		r.Get("/tuners/{index}", s.handleTuner)
		r.Delete("/tuners/{index}/process", s.handleKillTuner)

		r.Get("/channels", s.handleChannels)
		r.Get("/channels/{type}", s.handleChannelsByType)
		r.Get("/channels/{type}/{channel}", s.handleChannel)
		r.Get("/channels/{type}/{channel}/services", s.handleChannelServices)
		r.Get("/channels/{type}/{channel}/stream", s.handleChannelStream)
		r.Get("/channels/{type}/{channel}/services/{serviceId}/stream", s.handleChannelServiceStream)

		r.Get("/services", s.handleServices)
		r.Get("/services/{id}", s.handleService)
		r.Get("/services/{id}/stream", s.handleServiceStream)

		r.Get("/programs", s.handlePrograms)
		r.Get("/programs/{id}", s.handleProgram)
		r.Get("/programs/{id}/stream", s.handleProgramStream)

		r.Get("/iptv/xmltv", s.handleXMLTV)
	})
	return r
}
