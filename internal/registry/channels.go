// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry holds the channel, service and program collections that
// stream requests are resolved against.
package registry

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/log"
)

// ErrNotFound is returned when a lookup has no match.
var ErrNotFound = errors.New("registry: not found")

// Channel is one tunable channel.
type Channel struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Satellite string `json:"satellite,omitempty"`
}

// Same reports whether c and o address the same physical channel.
func (c Channel) Same(o Channel) bool {
	return c.Type == o.Type && c.Channel == o.Channel
}

// ServiceHint asks for a service id to be discovered on a channel.
type ServiceHint struct {
	Channel   Channel
	ServiceID uint16
}

// Channels is the channel registry. Entries are unique by (type, channel).
type Channels struct {
	mu     sync.RWMutex
	items  []Channel
	logger zerolog.Logger
}

// NewChannels returns an empty registry.
func NewChannels() *Channels {
	return &Channels{logger: log.WithComponent("registry")}
}

// Load replaces the registry with the configured channels. Invalid and
// disabled entries are skipped, as are types no tuner can receive when
// typeExists is non-nil. Entries repeating a (type, channel) pair are merged.
// The returned hints list configured service ids to look up.
func (c *Channels) Load(cfgs []config.ChannelConfig, typeExists func(string) bool) []ServiceHint {
	var (
		items []Channel
		hints []ServiceHint
	)
	for i, cc := range cfgs {
		if err := config.ValidateChannel(i, cc); err != nil {
			c.logger.Error().Err(err).Str(log.FieldEvent, "registry.channel_invalid").Msg("skipping channel")
			continue
		}
		if cc.Disabled {
			continue
		}
		if typeExists != nil && !typeExists(cc.Type) {
			c.logger.Debug().
				Str(log.FieldEvent, "registry.channel_unsupported").
				Str(log.FieldChannelType, cc.Type).
				Str(log.FieldChannel, cc.Channel).
				Msg("no tuner supports channel type, skipping")
			continue
		}

		ch := Channel{Name: cc.Name, Type: cc.Type, Channel: cc.Channel, Satellite: cc.Satellite}
		if !containsChannel(items, ch) {
			items = append(items, ch)
		}
		if cc.ServiceID != 0 {
			hints = append(hints, ServiceHint{Channel: ch, ServiceID: cc.ServiceID})
		}
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()

	c.logger.Info().
		Str(log.FieldEvent, "registry.channels_loaded").
		Int("loaded", len(items)).
		Int("configured", len(cfgs)).
		Msg("channels loaded")
	return hints
}

// Get looks up a channel by type and channel string.
func (c *Channels) Get(channelType, channel string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.items {
		if ch.Type == channelType && ch.Channel == channel {
			return ch, true
		}
	}
	return Channel{}, false
}

// All returns a copy of every channel.
func (c *Channels) All() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Channel(nil), c.items...)
}

// FindByType returns the channels of one type.
func (c *Channels) FindByType(channelType string) []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Channel
	for _, ch := range c.items {
		if ch.Type == channelType {
			out = append(out, ch)
		}
	}
	return out
}

func containsChannel(items []Channel, ch Channel) bool {
	for _, it := range items {
		if it.Same(ch) {
			return true
		}
	}
	return false
}
