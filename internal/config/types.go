// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Channel types understood by tuners and channels.
const (
	ChannelTypeGR  = "GR"
	ChannelTypeBS  = "BS"
	ChannelTypeCS  = "CS"
	ChannelTypeSKY = "SKY"
)

// ChannelTypes lists the valid channel types in canonical order.
var ChannelTypes = []string{ChannelTypeGR, ChannelTypeBS, ChannelTypeCS, ChannelTypeSKY}

// AppConfig is the effective daemon configuration.
type AppConfig struct {
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`
	DataDir    string `yaml:"dataDir,omitempty"`

	Server    ServerConfig    `yaml:"server,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	EPG       EPGConfig       `yaml:"epg,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`

	Tuners   []TunerConfig   `yaml:"tuners"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"`
	// RateLimit is the number of stream requests per minute allowed per client IP. 0 disables limiting.
	RateLimit       int           `yaml:"rateLimit,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
}

// SchedulerConfig tunes device selection retries.
type SchedulerConfig struct {
	RetryCount    int           `yaml:"retryCount,omitempty"`
	RetryInterval time.Duration `yaml:"retryInterval,omitempty"`
}

// EPGConfig configures periodic guide gathering and export.
type EPGConfig struct {
	Disabled         bool          `yaml:"disabled,omitempty"`
	GatherInterval   time.Duration `yaml:"gatherInterval,omitempty"`
	GatherTimeout    time.Duration `yaml:"gatherTimeout,omitempty"`
	DiscoveryTimeout time.Duration `yaml:"discoveryTimeout,omitempty"`
	Retention        time.Duration `yaml:"retention,omitempty"`
	XMLTVPath        string        `yaml:"xmltvPath,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// TunerConfig describes one physical tuner device. It is immutable after load.
type TunerConfig struct {
	Name  string   `yaml:"name"`
	Types []string `yaml:"types"`
	// Command is the capture command template. <channel> and <satellite> are substituted.
	Command string `yaml:"command"`
	// Decoder is an optional command the filtered stream is piped through.
	Decoder string `yaml:"decoder,omitempty"`
	// DevicePath, when set, is read for the transport stream instead of the command's stdout.
	DevicePath string `yaml:"devicePath,omitempty"`
	Disabled   bool   `yaml:"disabled,omitempty"`
}

// Supports reports whether the tuner can receive channels of the given type.
func (t TunerConfig) Supports(channelType string) bool {
	for _, ty := range t.Types {
		if ty == channelType {
			return true
		}
	}
	return false
}

// ChannelConfig describes one tunable channel.
type ChannelConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Channel   string `yaml:"channel"`
	Satellite string `yaml:"satellite,omitempty"`
	// ServiceID, when set, is looked up on the channel and registered once found.
	ServiceID uint16 `yaml:"serviceId,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}
