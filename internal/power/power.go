// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package power keeps the host awake while capture processes run.
package power

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/log"
)

// Controller is the reservation surface the tuner uses.
type Controller interface {
	// AddWake reserves the host for key and reports whether the reservation is new.
	AddWake(key any) bool
	// RemoveWake drops the reservation for key and reports whether it existed.
	RemoveWake(key any) bool
}

// Inhibitor prevents or allows host sleep. Start is called when the first
// reservation is taken, Stop when the last one is dropped.
type Inhibitor interface {
	Start() error
	Stop() error
}

// Nop is an Inhibitor that does nothing.
type Nop struct{}

func (Nop) Start() error { return nil }
func (Nop) Stop() error  { return nil }

// Reservations counts wake reservations and drives an Inhibitor.
type Reservations struct {
	mu        sync.Mutex
	keys      map[any]struct{}
	inhibitor Inhibitor
	active    bool
	logger    zerolog.Logger
}

// New returns a Reservations backed by inhibitor; nil means Nop.
func New(inhibitor Inhibitor) *Reservations {
	if inhibitor == nil {
		inhibitor = Nop{}
	}
	return &Reservations{
		keys:      make(map[any]struct{}),
		inhibitor: inhibitor,
		logger:    log.WithComponent("power"),
	}
}

func (r *Reservations) AddWake(key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return false
	}
	r.keys[key] = struct{}{}
	r.checkLocked()
	return true
}

func (r *Reservations) RemoveWake(key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; !ok {
		return false
	}
	delete(r.keys, key)
	r.checkLocked()
	return true
}

// Active reports whether sleep is currently inhibited.
func (r *Reservations) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Reservations) checkLocked() {
	switch {
	case len(r.keys) == 0 && r.active:
		if err := r.inhibitor.Stop(); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldEvent, "power.stop_failed").Msg("failed to release sleep inhibitor")
			return
		}
		r.active = false
		r.logger.Debug().Str(log.FieldEvent, "power.wake_stopped").Msg("stop preventing from sleep")
	case len(r.keys) > 0 && !r.active:
		if err := r.inhibitor.Start(); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldEvent, "power.start_failed").Msg("failed to take sleep inhibitor")
			return
		}
		r.active = true
		r.logger.Debug().Str(log.FieldEvent, "power.wake_started").Msg("start preventing from sleep")
	}
}
