// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tsfilter

// EventKind enumerates filter notifications.
type EventKind int

const (
	// EventServices carries the services found in the SDT.
	EventServices EventKind = iota + 1
	// EventEPGReady fires once when every tracked EIT schedule is complete.
	EventEPGReady
	// EventProgramEnded fires when the targeted event is no longer current.
	EventProgramEnded
)

func (k EventKind) String() string {
	switch k {
	case EventServices:
		return "services"
	case EventEPGReady:
		return "epg_ready"
	case EventProgramEnded:
		return "program_ended"
	default:
		return "unknown"
	}
}

// Service is a service discovered in the SDT.
type Service struct {
	NetworkID uint16
	ServiceID uint16
	Name      string
}

// Event is a filter notification. Services is set for EventServices only.
type Event struct {
	Kind     EventKind
	Services []Service
}

// CloseReason records why a filter closed.
type CloseReason int

const (
	CloseReasonNone CloseReason = iota
	// CloseReasonClosed is an explicit Close by the consumer or the device.
	CloseReasonClosed
	// CloseReasonOverflow means the reader fell behind the high-water mark.
	CloseReasonOverflow
	// CloseReasonProgramEnded means the targeted event ended.
	CloseReasonProgramEnded
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "open"
	case CloseReasonClosed:
		return "closed"
	case CloseReasonOverflow:
		return "overflow"
	case CloseReasonProgramEnded:
		return "program_ended"
	default:
		return "unknown"
	}
}
