// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

const streamChunk = 188 * 64

var errBadPriority = errors.New("priority header must be an integer")

// userFromRequest builds the stream consumer of a request. The priority comes
// from the priority header; decode=0 bypasses the device decoder.
func userFromRequest(r *http.Request) (tuner.User, error) {
	priority := tuner.PriorityDefault
	if v := r.Header.Get(HeaderPriority); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return tuner.User{}, errBadPriority
		}
		priority = p
	}
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		id = log.RequestIDFromContext(r.Context())
	}
	if id == "" {
		id = uuid.NewString()
	}
	return tuner.User{
		ID:             id,
		Priority:       priority,
		Agent:          r.UserAgent(),
		DisableDecoder: r.URL.Query().Get("decode") == "0",
	}, nil
}

type openFunc func(ctx context.Context, user tuner.User) (*tuner.Stream, error)

// serveStream opens a stream and copies it to the client until either side closes.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, open openFunc) {
	user, err := userFromRequest(r)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	ctx := log.ContextWithUserID(r.Context(), user.ID)
	logger := log.WithComponentFromContext(ctx, "api")

	stream, err := open(ctx, user)
	if err != nil {
		logger.Info().Err(err).
			Str(log.FieldEvent, "api.stream_rejected").
			Int(log.FieldPriority, user.Priority).
			Msg("stream request rejected")
		writeError(w, r, err)
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	annotate(r, http.StatusOK)
	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(HeaderTuner, strconv.Itoa(stream.Device()))
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	logger.Info().
		Str(log.FieldEvent, "api.stream_started").
		Int(log.FieldDevice, stream.Device()).
		Int(log.FieldPriority, user.Priority).
		Str(log.FieldAgent, user.Agent).
		Msg("streaming to client")

	var written int64
	buf := make([]byte, streamChunk)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			written += int64(n)
			_ = rc.Flush()
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				logger.Warn().Err(rerr).Str(log.FieldEvent, "api.stream_read_failed").Msg("stream read failed")
			}
			break
		}
	}

	logger.Info().
		Str(log.FieldEvent, "api.stream_ended").
		Int(log.FieldDevice, stream.Device()).
		Int64("bytes", written).
		Str("reason", stream.CloseReason().String()).
		Msg("stream ended")
}

func (s *Server) handleChannelStream(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channelParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveStream(w, r, func(ctx context.Context, user tuner.User) (*tuner.Stream, error) {
		return s.deps.Tuner.ChannelStream(ctx, ch, user)
	})
}

func (s *Server) handleChannelServiceStream(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channelParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid, err := strconv.ParseUint(chi.URLParam(r, "serviceId"), 10, 16)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, "serviceId must be a 16-bit integer")
		return
	}
	var svc *registry.Service
	for _, candidate := range s.deps.Services.FindByChannel(ch) {
		if candidate.ServiceID == uint16(sid) {
			svc = &candidate
			break
		}
	}
	if svc == nil {
		writeError(w, r, fmt.Errorf("%w: service %d on %s/%s", registry.ErrNotFound, sid, ch.Type, ch.Channel))
		return
	}
	s.serveStream(w, r, func(ctx context.Context, user tuner.User) (*tuner.Stream, error) {
		return s.deps.Tuner.ServiceStream(ctx, *svc, user)
	})
}

func (s *Server) handleServiceStream(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveStream(w, r, func(ctx context.Context, user tuner.User) (*tuner.Stream, error) {
		return s.deps.Tuner.ServiceStream(ctx, svc, user)
	})
}

func (s *Server) handleProgramStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.programParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveStream(w, r, func(ctx context.Context, user tuner.User) (*tuner.Stream, error) {
		return s.deps.Tuner.ProgramStream(ctx, p, user)
	})
}
