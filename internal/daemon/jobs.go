// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/telemetry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

// Job defaults.
const (
	DefaultFirstGatherDelay = time.Minute
	DefaultDiscoveryRetry   = time.Minute
	DefaultGCInterval       = 15 * time.Minute
)

// Scanner is the part of the tuner the background jobs drive.
type Scanner interface {
	GetServices(ctx context.Context, ch registry.Channel, timeout time.Duration) ([]registry.Service, error)
	GetEPG(ctx context.Context, ch registry.Channel, timeout time.Duration) error
}

// JobsConfig tunes the background jobs. Zero durations take defaults.
type JobsConfig struct {
	EPGDisabled      bool
	GatherInterval   time.Duration
	GatherTimeout    time.Duration
	FirstGatherDelay time.Duration
	DiscoveryTimeout time.Duration
	DiscoveryRetry   time.Duration
	GCInterval       time.Duration
	Retention        time.Duration
	XMLTVPath        string
}

func (c JobsConfig) withDefaults() JobsConfig {
	if c.GatherInterval <= 0 {
		c.GatherInterval = time.Hour
	}
	if c.FirstGatherDelay <= 0 {
		c.FirstGatherDelay = DefaultFirstGatherDelay
	}
	if c.DiscoveryRetry <= 0 {
		c.DiscoveryRetry = DefaultDiscoveryRetry
	}
	if c.GCInterval <= 0 {
		c.GCInterval = DefaultGCInterval
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// Jobs runs service discovery, EPG gathering and program expiry one at a
// time, so at most one background stream occupies a tuner.
type Jobs struct {
	cfg      JobsConfig
	scanner  Scanner
	services *registry.Services
	programs *registry.Programs
	hints    chan []registry.ServiceHint
	tracer   trace.Tracer
	logger   zerolog.Logger

	mu         sync.Mutex
	lastGather time.Time
	lastErr    string
}

// NewJobs wires the jobs. programs may be nil when the EPG store is disabled.
func NewJobs(cfg JobsConfig, scanner Scanner, services *registry.Services, programs *registry.Programs) *Jobs {
	return &Jobs{
		cfg:      cfg.withDefaults(),
		scanner:  scanner,
		services: services,
		programs: programs,
		hints:    make(chan []registry.ServiceHint, 1),
		tracer:   telemetry.Tracer("tunerd/daemon"),
		logger:   log.WithComponent("jobs"),
	}
}

// UpdateHints replaces the configured services to look up. The latest call wins.
func (j *Jobs) UpdateHints(hints []registry.ServiceHint) {
	select {
	case <-j.hints:
	default:
	}
	j.hints <- hints
}

// Run executes the jobs until ctx ends.
func (j *Jobs) Run(ctx context.Context) error {
	var (
		pending []registry.ServiceHint
		retry   <-chan time.Time
		gather  <-chan time.Time
	)
	if !j.cfg.EPGDisabled {
		gatherTimer := time.NewTimer(j.cfg.FirstGatherDelay)
		defer gatherTimer.Stop()
		gather = gatherTimer.C
	}
	gc := time.NewTicker(j.cfg.GCInterval)
	defer gc.Stop()

	discover := func(hints []registry.ServiceHint) {
		pending = j.DiscoverServices(ctx, hints)
		retry = nil
		if len(pending) > 0 && ctx.Err() == nil {
			retry = time.After(j.cfg.DiscoveryRetry)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case hints := <-j.hints:
			discover(hints)
		case <-retry:
			discover(pending)
		case <-gather:
			j.GatherEPG(ctx)
			gather = time.After(j.cfg.GatherInterval)
		case <-gc.C:
			j.CollectGarbage(ctx)
		}
	}
}

// DiscoverServices scans the channels of hints whose service is not yet
// registered and adds the matching services. It returns the hints whose scan
// failed; a scan that succeeds without the service is not retried.
func (j *Jobs) DiscoverServices(ctx context.Context, hints []registry.ServiceHint) []registry.ServiceHint {
	var failed []registry.ServiceHint
	for _, h := range hints {
		if ctx.Err() != nil {
			return append(failed, h)
		}
		if j.registered(h) {
			continue
		}
		logger := j.logger.With().
			Str(log.FieldChannelType, h.Channel.Type).
			Str(log.FieldChannel, h.Channel.Channel).
			Uint16(log.FieldServiceID, h.ServiceID).
			Logger()

		found, err := j.scanner.GetServices(ctx, h.Channel, j.cfg.DiscoveryTimeout)
		if err != nil {
			logger.Info().Err(err).Str(log.FieldEvent, "jobs.discovery_failed").Msg("service check failed, will retry")
			failed = append(failed, h)
			continue
		}
		added := false
		for _, svc := range found {
			if svc.ServiceID != h.ServiceID {
				continue
			}
			j.services.Add(svc)
			added = true
			logger.Info().
				Str(log.FieldEvent, "jobs.service_added").
				Uint16(log.FieldNetworkID, svc.NetworkID).
				Str("name", svc.Name).
				Msg("service registered")
		}
		if !added {
			logger.Debug().Str(log.FieldEvent, "jobs.service_missing").Msg("service not found on channel")
		}
	}
	return failed
}

func (j *Jobs) registered(h registry.ServiceHint) bool {
	for _, svc := range j.services.FindByChannel(h.Channel) {
		if svc.ServiceID == h.ServiceID {
			return true
		}
	}
	return false
}

// LastGather returns the end of the last fully successful gathering pass and
// the first error of the latest pass.
func (j *Jobs) LastGather() (time.Time, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastGather, j.lastErr
}

// GatherEPG tunes one channel per known network and waits for its schedule.
// A failed network is logged and gathered again on the next pass.
func (j *Jobs) GatherEPG(ctx context.Context) {
	var firstErr error
	for _, nid := range j.services.NetworkIDs() {
		if ctx.Err() != nil {
			return
		}
		svcs := j.services.FindByNetworkID(nid)
		if len(svcs) == 0 {
			continue
		}
		ch, err := j.services.ChannelOf(svcs[0])
		if err != nil {
			continue
		}
		if err := j.gatherNetwork(ctx, nid, ch, len(svcs)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	j.mu.Lock()
	if firstErr != nil {
		j.lastErr = firstErr.Error()
	} else {
		j.lastGather, j.lastErr = time.Now(), ""
	}
	j.mu.Unlock()

	if err := j.ExportXMLTV(ctx); err != nil {
		j.logger.Warn().Err(err).Str(log.FieldEvent, "jobs.xmltv_export_failed").Msg("xmltv export failed")
	}
}

func (j *Jobs) gatherNetwork(ctx context.Context, nid uint16, ch registry.Channel, services int) error {
	ctx, span := j.tracer.Start(ctx, "epg.gather", trace.WithAttributes(telemetry.EPGAttributes(nid, 1, services)...))
	defer span.End()

	logger := j.logger.With().Uint16(log.FieldNetworkID, nid).Logger()
	logger.Info().Str(log.FieldEvent, "jobs.epg_started").Msg("network epg gathering started")
	start := time.Now()

	err := j.scanner.GetEPG(ctx, ch, j.cfg.GatherTimeout)
	switch {
	case err == nil:
		metrics.IncEPGGather(true)
		logger.Info().
			Str(log.FieldEvent, "jobs.epg_finished").
			Dur("duration", time.Since(start)).
			Msg("network epg gathering finished")
	case errors.Is(err, tuner.ErrEPGInProgress):
		logger.Debug().Str(log.FieldEvent, "jobs.epg_skipped").Msg("network already being gathered")
	default:
		metrics.IncEPGGather(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str(log.FieldEvent, "jobs.epg_failed").Msg("network epg gathering failed")
		return err
	}
	return nil
}

// ExportXMLTV writes the stored guide to the configured XMLTV path.
func (j *Jobs) ExportXMLTV(ctx context.Context) error {
	if j.cfg.XMLTVPath == "" || j.programs == nil {
		return nil
	}
	progs, err := j.programs.All(ctx)
	if err != nil {
		return err
	}
	svcs := j.services.All()
	infos := make([]epg.ServiceInfo, 0, len(svcs))
	for _, svc := range svcs {
		infos = append(infos, epg.ServiceInfo{NetworkID: svc.NetworkID, ServiceID: svc.ServiceID, Name: svc.Name})
	}
	if err := epg.WriteXMLTV(ctx, j.cfg.XMLTVPath, epg.GenerateXMLTV(infos, progs)); err != nil {
		return err
	}
	j.logger.Info().
		Str(log.FieldEvent, "jobs.xmltv_exported").
		Str(log.FieldPath, j.cfg.XMLTVPath).
		Int("programs", len(progs)).
		Msg("xmltv exported")
	return nil
}

// CollectGarbage removes programs past the retention window.
func (j *Jobs) CollectGarbage(ctx context.Context) {
	if j.programs == nil {
		return
	}
	if err := j.programs.GC(ctx, time.Now(), j.cfg.Retention); err != nil {
		j.logger.Warn().Err(err).Str(log.FieldEvent, "jobs.gc_failed").Msg("program gc failed")
	}
}
