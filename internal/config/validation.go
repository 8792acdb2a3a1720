// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate checks the global settings. Tuner and channel entries are checked
// individually by their consumers so one bad entry never rejects the file.
func Validate(cfg AppConfig) error {
	var errs []error

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimit must be >= 0, got %d", cfg.Server.RateLimit))
	}
	if cfg.Scheduler.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("scheduler.retryCount must be >= 1, got %d", cfg.Scheduler.RetryCount))
	}
	if cfg.Scheduler.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.retryInterval must be positive, got %s", cfg.Scheduler.RetryInterval))
	}
	if !cfg.EPG.Disabled {
		if cfg.EPG.GatherInterval <= 0 {
			errs = append(errs, fmt.Errorf("epg.gatherInterval must be positive, got %s", cfg.EPG.GatherInterval))
		}
		if cfg.EPG.GatherTimeout <= 0 {
			errs = append(errs, fmt.Errorf("epg.gatherTimeout must be positive, got %s", cfg.EPG.GatherTimeout))
		}
	}
	if cfg.EPG.DiscoveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("epg.discoveryTimeout must be positive, got %s", cfg.EPG.DiscoveryTimeout))
	}
	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("telemetry.exporter must be grpc or http, got %q", cfg.Telemetry.Exporter))
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.samplingRate must be within [0,1], got %v", cfg.Telemetry.SamplingRate))
		}
	}
	return errors.Join(errs...)
}

// ValidateTuner checks the tuner entry at position i.
func ValidateTuner(i int, t TunerConfig) error {
	switch {
	case t.Name == "" || len(t.Types) == 0 || t.Command == "":
		return fmt.Errorf("%w: tuner#%d: missing required property (name, types, command)", ErrInvalidTuner, i)
	case strings.TrimSpace(t.Command) == "":
		return fmt.Errorf("%w: tuner#%d: empty command", ErrInvalidTuner, i)
	}
	for _, ty := range t.Types {
		if !slices.Contains(ChannelTypes, ty) {
			return fmt.Errorf("%w: tuner#%d: unknown channel type %q", ErrInvalidTuner, i, ty)
		}
	}
	return nil
}

// ValidateChannel checks the channel entry at position i.
func ValidateChannel(i int, c ChannelConfig) error {
	switch {
	case c.Name == "" || c.Type == "" || c.Channel == "":
		return fmt.Errorf("%w: channel#%d: missing required property (name, type, channel)", ErrInvalidChannel, i)
	case !slices.Contains(ChannelTypes, c.Type):
		return fmt.Errorf("%w: channel#%d: unknown type %q", ErrInvalidChannel, i, c.Type)
	}
	return nil
}
