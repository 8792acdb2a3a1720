// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
)

// DefaultSaveDelay coalesces bursts of registry changes into one write.
const DefaultSaveDelay = time.Second

// ChannelRef identifies the channel a service is carried on.
type ChannelRef struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Service is one broadcast service.
type Service struct {
	ID        int64      `json:"id"`
	NetworkID uint16     `json:"networkId"`
	ServiceID uint16     `json:"serviceId"`
	Name      string     `json:"name"`
	Channel   ChannelRef `json:"channel"`
}

// NewService builds a service record with its derived id.
func NewService(networkID, serviceID uint16, name string, ch Channel) Service {
	return Service{
		ID:        epg.ServiceItemID(networkID, serviceID),
		NetworkID: networkID,
		ServiceID: serviceID,
		Name:      name,
		Channel:   ChannelRef{Type: ch.Type, Channel: ch.Channel},
	}
}

// Services is the service registry, persisted as JSON.
type Services struct {
	mu        sync.RWMutex
	items     []Service
	path      string
	channels  *Channels
	saveDelay time.Duration
	saveTimer *time.Timer
	logger    zerolog.Logger
}

// NewServices creates a registry persisted at path. An empty path keeps it in memory.
func NewServices(path string, channels *Channels) *Services {
	return &Services{
		path:      path,
		channels:  channels,
		saveDelay: DefaultSaveDelay,
		logger:    log.WithComponent("registry"),
	}
}

// Load reads the persisted services. Entries whose channel is no longer
// configured, lacking ids, or duplicated are dropped and the file is rewritten.
func (s *Services) Load() error {
	if s.path == "" {
		return nil
	}
	// #nosec G304 -- path is derived from the configured data directory
	data, err := os.ReadFile(filepath.Clean(s.path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read services: %w", err)
	}
	var stored []Service
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode services: %w", err)
	}

	dropped := false
	s.mu.Lock()
	s.items = s.items[:0]
	for _, svc := range stored {
		if svc.NetworkID == 0 || svc.ServiceID == 0 {
			dropped = true
			continue
		}
		if _, ok := s.channels.Get(svc.Channel.Type, svc.Channel.Channel); !ok {
			dropped = true
			continue
		}
		if s.indexLocked(svc.NetworkID, svc.ServiceID) >= 0 {
			dropped = true
			continue
		}
		svc.ID = epg.ServiceItemID(svc.NetworkID, svc.ServiceID)
		s.items = append(s.items, svc)
	}
	n := len(s.items)
	if dropped {
		s.scheduleSaveLocked()
	}
	s.mu.Unlock()

	s.logger.Info().
		Str(log.FieldEvent, "registry.services_loaded").
		Int("loaded", n).
		Bool("dropped", dropped).
		Msg("services loaded")
	return nil
}

// Add inserts svc, or updates the name and channel of an existing entry.
// It reports whether the registry changed.
func (s *Services) Add(svc Service) bool {
	svc.ID = epg.ServiceItemID(svc.NetworkID, svc.ServiceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(svc.NetworkID, svc.ServiceID); i >= 0 {
		if s.items[i] == svc {
			return false
		}
		s.items[i] = svc
	} else {
		s.items = append(s.items, svc)
	}
	s.scheduleSaveLocked()
	return true
}

// Remove deletes a service.
func (s *Services) Remove(networkID, serviceID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(networkID, serviceID)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	s.scheduleSaveLocked()
	return true
}

// Get looks up a service by network and service id.
func (s *Services) Get(networkID, serviceID uint16) (Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(networkID, serviceID); i >= 0 {
		return s.items[i], true
	}
	return Service{}, false
}

// GetByID looks up a service by its derived id.
func (s *Services) GetByID(id int64) (Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.items {
		if svc.ID == id {
			return svc, true
		}
	}
	return Service{}, false
}

// Has reports whether the service is registered.
func (s *Services) Has(networkID, serviceID uint16) bool {
	_, ok := s.Get(networkID, serviceID)
	return ok
}

// ServiceIDs lists the service ids registered for a network.
func (s *Services) ServiceIDs(networkID uint16) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint16
	for _, svc := range s.items {
		if svc.NetworkID == networkID {
			ids = append(ids, svc.ServiceID)
		}
	}
	return ids
}

// FindByNetworkID returns the services of one network.
func (s *Services) FindByNetworkID(networkID uint16) []Service {
	return s.filter(func(svc Service) bool { return svc.NetworkID == networkID })
}

// FindByChannel returns the services carried on a channel.
func (s *Services) FindByChannel(ch Channel) []Service {
	return s.filter(func(svc Service) bool {
		return svc.Channel.Type == ch.Type && svc.Channel.Channel == ch.Channel
	})
}

// All returns a copy of every service.
func (s *Services) All() []Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Service(nil), s.items...)
}

// NetworkIDs returns the distinct network ids in registration order.
func (s *Services) NetworkIDs() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint16
	for _, svc := range s.items {
		if !slices.Contains(ids, svc.NetworkID) {
			ids = append(ids, svc.NetworkID)
		}
	}
	return ids
}

// ChannelOf resolves the channel a service is carried on.
func (s *Services) ChannelOf(svc Service) (Channel, error) {
	ch, ok := s.channels.Get(svc.Channel.Type, svc.Channel.Channel)
	if !ok {
		return Channel{}, fmt.Errorf("%w: channel %s/%s", ErrNotFound, svc.Channel.Type, svc.Channel.Channel)
	}
	return ch, nil
}

// Save writes the registry now.
func (s *Services) Save() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	items := append([]Service(nil), s.items...)
	s.mu.Unlock()
	return s.write(items)
}

// Close flushes a pending save.
func (s *Services) Close() error {
	s.mu.Lock()
	pending := s.saveTimer != nil
	s.mu.Unlock()
	if !pending {
		return nil
	}
	return s.Save()
}

func (s *Services) filter(keep func(Service) bool) []Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Service
	for _, svc := range s.items {
		if keep(svc) {
			out = append(out, svc)
		}
	}
	return out
}

func (s *Services) indexLocked(networkID, serviceID uint16) int {
	for i, svc := range s.items {
		if svc.NetworkID == networkID && svc.ServiceID == serviceID {
			return i
		}
	}
	return -1
}

func (s *Services) scheduleSaveLocked() {
	if s.path == "" {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, func() {
		if err := s.Save(); err != nil {
			s.logger.Error().Err(err).Str(log.FieldEvent, "registry.save_failed").Msg("failed to save services")
		}
	})
}

func (s *Services) write(items []Service) error {
	if s.path == "" {
		return nil
	}
	if items == nil {
		items = []Service{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create services dir: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending services file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending services file")
		}
	}()
	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write services: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace services file: %w", err)
	}
	s.logger.Debug().Str(log.FieldEvent, "registry.services_saved").Int("count", len(items)).Msg("services saved")
	return nil
}
