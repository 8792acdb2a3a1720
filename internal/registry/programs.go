// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
)

// Programs resolves broadcast events stored by the EPG sink.
type Programs struct {
	store *epg.Store
}

// NewPrograms wraps an EPG store.
func NewPrograms(store *epg.Store) *Programs {
	return &Programs{store: store}
}

// Get returns the program with the given id.
func (p *Programs) Get(ctx context.Context, id int64) (epg.Program, error) {
	prog, ok := p.store.Get(ctx, id)
	if !ok {
		return epg.Program{}, fmt.Errorf("%w: program %d", ErrNotFound, id)
	}
	return prog, nil
}

// FindByService returns the programs of one service ordered by start time.
func (p *Programs) FindByService(ctx context.Context, networkID, serviceID uint16) ([]epg.Program, error) {
	return p.store.FindByService(ctx, networkID, serviceID)
}

// GC removes programs that ended before now minus retention.
func (p *Programs) GC(ctx context.Context, now time.Time, retention time.Duration) error {
	n, err := p.store.Prune(ctx, now.Add(-retention))
	if err != nil {
		return fmt.Errorf("prune programs: %w", err)
	}
	if n > 0 {
		log.FromContext(ctx).Debug().
			Str(log.FieldEvent, "registry.programs_pruned").
			Int64("count", n).
			Msg("expired programs removed")
	}
	return nil
}

// All returns every stored program.
func (p *Programs) All(ctx context.Context) ([]epg.Program, error) {
	return p.store.All(ctx)
}
