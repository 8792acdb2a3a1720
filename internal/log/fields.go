// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldAgent     = "agent"
	FieldPriority  = "priority"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldCommand   = "command"
	FieldExitCode  = "exit_code"
	FieldSignal    = "signal"

	// Tuner / broadcast fields
	FieldDevice      = "device"
	FieldDeviceName  = "device_name"
	FieldChannel     = "channel"
	FieldChannelType = "channel_type"
	FieldNetworkID   = "network_id"
	FieldServiceID   = "service_id"
	FieldEventID     = "event_id"
	FieldPMTPID      = "pmt_pid"
	FieldTSID        = "transport_stream_id"

	// Path fields
	FieldPath = "path"
)
