// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tsfilter

import (
	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/mpegts"
)

// DefaultHighWaterMark is the output backlog at which a filter gives up on its reader.
const DefaultHighWaterMark = 16 * 1024 * 1024

// ServiceLookup answers the registry questions the filter asks while parsing a PAT.
type ServiceLookup interface {
	// Has reports whether the service is registered.
	Has(networkID, serviceID uint16) bool
	// ServiceIDs lists the registered services of a network.
	ServiceIDs(networkID uint16) []uint16
}

// Options configures a Filter. Zero ids mean "not set".
type Options struct {
	NetworkID uint16
	ServiceID uint16
	EventID   uint16

	// NoProvide suppresses all pass-through output; only metadata is extracted.
	NoProvide bool
	// ParseSDT emits EventServices once the SDT has been read.
	ParseSDT bool
	// ParseEIT delivers schedule sections to EPG and tracks completeness.
	ParseEIT bool
	// Charset decodes service and event names; the zero value is ARIB.
	Charset mpegts.Charset

	Services ServiceLookup
	Claims   *epg.Claims
	EPG      epg.Sink

	// HighWaterMark overrides DefaultHighWaterMark when positive.
	HighWaterMark int
}
