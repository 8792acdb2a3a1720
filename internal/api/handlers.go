// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/registry"
)

func (s *Server) handleTuners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Tuner.Status())
}

func (s *Server) handleTuner(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, "tuner index must be an integer")
		return
	}
	d, ok := s.deps.Tuner.Device(index)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: tuner#%d", registry.ErrNotFound, index))
		return
	}
	writeJSON(w, r, http.StatusOK, d.Status())
}

func (s *Server) handleKillTuner(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, "tuner index must be an integer")
		return
	}
	d, ok := s.deps.Tuner.Device(index)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: tuner#%d", registry.ErrNotFound, index))
		return
	}
	pid := d.Status().PID
	if err := d.Kill(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).Info().
		Str(log.FieldEvent, "api.tuner_killed").
		Int(log.FieldDevice, index).
		Int(log.FieldPID, pid).
		Msg("tuner process killed on request")
	writeJSON(w, r, http.StatusOK, map[string]any{"pid": pid})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, nonNil(s.deps.Channels.All()))
}

func (s *Server) handleChannelsByType(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, nonNil(s.deps.Channels.FindByType(chi.URLParam(r, "type"))))
}

func (s *Server) channelParam(r *http.Request) (registry.Channel, error) {
	typ, id := chi.URLParam(r, "type"), chi.URLParam(r, "channel")
	ch, ok := s.deps.Channels.Get(typ, id)
	if !ok {
		return registry.Channel{}, fmt.Errorf("%w: channel %s/%s", registry.ErrNotFound, typ, id)
	}
	return ch, nil
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channelParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ch)
}

func (s *Server) handleChannelServices(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channelParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nonNil(s.deps.Services.FindByChannel(ch)))
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("networkId"); v != "" {
		nid, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, "networkId must be a 16-bit integer")
			return
		}
		writeJSON(w, r, http.StatusOK, nonNil(s.deps.Services.FindByNetworkID(uint16(nid))))
		return
	}
	writeJSON(w, r, http.StatusOK, nonNil(s.deps.Services.All()))
}

func (s *Server) serviceParam(r *http.Request) (registry.Service, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return registry.Service{}, fmt.Errorf("%w: service id %q", registry.ErrNotFound, chi.URLParam(r, "id"))
	}
	svc, ok := s.deps.Services.GetByID(id)
	if !ok {
		return registry.Service{}, fmt.Errorf("%w: service %d", registry.ErrNotFound, id)
	}
	return svc, nil
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, svc)
}

// program is the wire form of a stored EIT event. Times are Unix milliseconds.
type program struct {
	ID          int64  `json:"id"`
	NetworkID   uint16 `json:"networkId"`
	ServiceID   uint16 `json:"serviceId"`
	EventID     uint16 `json:"eventId"`
	StartAt     int64  `json:"startAt"`
	Duration    int64  `json:"duration"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func toProgram(p epg.Program) program {
	return program{
		ID:          p.ID,
		NetworkID:   p.NetworkID,
		ServiceID:   p.ServiceID,
		EventID:     p.EventID,
		StartAt:     p.StartAt.UnixMilli(),
		Duration:    p.Duration.Milliseconds(),
		Name:        p.Name,
		Description: p.Description,
	}
}

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	if s.deps.Programs == nil {
		writeJSON(w, r, http.StatusOK, []program{})
		return
	}
	q := r.URL.Query()
	nid, errN := strconv.ParseUint(q.Get("networkId"), 10, 16)
	sid, errS := strconv.ParseUint(q.Get("serviceId"), 10, 16)
	if errN != nil || errS != nil {
		writeProblem(w, r, http.StatusBadRequest, CodeBadRequest, "networkId and serviceId are required")
		return
	}
	progs, err := s.deps.Programs.FindByService(r.Context(), uint16(nid), uint16(sid))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]program, 0, len(progs))
	for _, p := range progs {
		out = append(out, toProgram(p))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) programParam(r *http.Request) (epg.Program, error) {
	if s.deps.Programs == nil {
		return epg.Program{}, fmt.Errorf("%w: program store disabled", registry.ErrNotFound)
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return epg.Program{}, fmt.Errorf("%w: program id %q", registry.ErrNotFound, chi.URLParam(r, "id"))
	}
	return s.deps.Programs.Get(r.Context(), id)
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	p, err := s.programParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProgram(p))
}

func (s *Server) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	svcs := s.deps.Services.All()
	infos := make([]epg.ServiceInfo, 0, len(svcs))
	for _, svc := range svcs {
		infos = append(infos, epg.ServiceInfo{NetworkID: svc.NetworkID, ServiceID: svc.ServiceID, Name: svc.Name})
	}
	var progs []epg.Program
	if s.deps.Programs != nil {
		var err error
		if progs, err = s.deps.Programs.All(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}

	annotate(r, http.StatusOK)
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if err := epg.EncodeXMLTV(w, epg.GenerateXMLTV(infos, progs)); err != nil {
		log.FromContext(r.Context()).Warn().Err(err).
			Str(log.FieldEvent, "api.xmltv_write_failed").
			Msg("failed to write xmltv response")
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
