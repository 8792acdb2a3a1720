// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen           = ":40772"
	DefaultDataDir          = "/var/lib/tunerd"
	DefaultRetryCount       = 10
	DefaultRetryInterval    = time.Second
	DefaultGatherInterval   = time.Hour
	DefaultGatherTimeout    = 60 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultEPGRetention     = 24 * time.Hour
	DefaultShutdownTimeout  = 10 * time.Second
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty path loads from ENV only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Path returns the configuration file path, if any.
func (l *Loader) Path() string {
	return l.configPath
}

// Load parses the file strictly, applies ENV overrides and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := AppConfig{}
	l.setDefaults(&cfg)

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	if cfg.EPG.XMLTVPath == "" {
		cfg.EPG.XMLTVPath = filepath.Join(cfg.DataDir, "xmltv.xml")
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setDefaults(cfg *AppConfig) {
	cfg.LogLevel = "info"
	cfg.LogService = "tunerd"
	cfg.DataDir = DefaultDataDir
	cfg.Server = ServerConfig{
		Listen:          DefaultListen,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	cfg.Scheduler = SchedulerConfig{
		RetryCount:    DefaultRetryCount,
		RetryInterval: DefaultRetryInterval,
	}
	cfg.EPG = EPGConfig{
		GatherInterval:   DefaultGatherInterval,
		GatherTimeout:    DefaultGatherTimeout,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		Retention:        DefaultEPGRetention,
	}
	cfg.Telemetry = TelemetryConfig{
		Exporter:     "grpc",
		Endpoint:     "localhost:4317",
		SamplingRate: 1.0,
	}
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields are rejected to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("TUNERD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("TUNERD_LOG_SERVICE", cfg.LogService)
	cfg.DataDir = l.envString("TUNERD_DATA_DIR", cfg.DataDir)

	cfg.Server.Listen = l.envString("TUNERD_LISTEN", cfg.Server.Listen)
	cfg.Server.RateLimit = l.envInt("TUNERD_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.ShutdownTimeout = l.envDuration("TUNERD_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Scheduler.RetryCount = l.envInt("TUNERD_RETRY_COUNT", cfg.Scheduler.RetryCount)
	cfg.Scheduler.RetryInterval = l.envDuration("TUNERD_RETRY_INTERVAL", cfg.Scheduler.RetryInterval)

	cfg.EPG.Disabled = l.envBool("TUNERD_EPG_DISABLED", cfg.EPG.Disabled)
	cfg.EPG.GatherInterval = l.envDuration("TUNERD_EPG_INTERVAL", cfg.EPG.GatherInterval)
	cfg.EPG.GatherTimeout = l.envDuration("TUNERD_EPG_TIMEOUT", cfg.EPG.GatherTimeout)
	cfg.EPG.DiscoveryTimeout = l.envDuration("TUNERD_DISCOVERY_TIMEOUT", cfg.EPG.DiscoveryTimeout)
	cfg.EPG.Retention = l.envDuration("TUNERD_EPG_RETENTION", cfg.EPG.Retention)
	cfg.EPG.XMLTVPath = l.envString("TUNERD_XMLTV_PATH", cfg.EPG.XMLTVPath)

	cfg.Telemetry.Enabled = l.envBool("TUNERD_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("TUNERD_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TUNERD_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TUNERD_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
