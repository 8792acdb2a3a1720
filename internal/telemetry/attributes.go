// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Stream request attributes
	StreamChannelKey     = "stream.channel"
	StreamChannelTypeKey = "stream.channel_type"
	StreamNetworkIDKey   = "stream.network_id"
	StreamServiceIDKey   = "stream.service_id"
	StreamEventIDKey     = "stream.event_id"

	// Scheduling attributes
	TunerDeviceKey   = "tuner.device"
	TunerStepKey     = "tuner.step"
	TunerPriorityKey = "tuner.priority"
	TunerAttemptsKey = "tuner.attempts"

	// EPG attributes
	EPGNetworkIDKey = "epg.network_id"
	EPGChannelsKey  = "epg.channels"
	EPGEventsKey    = "epg.events"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// StreamAttributes describes a stream request. Zero ids are omitted.
func StreamAttributes(channelType, channel string, networkID, serviceID, eventID uint16) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if channelType != "" {
		attrs = append(attrs, attribute.String(StreamChannelTypeKey, channelType))
	}
	if channel != "" {
		attrs = append(attrs, attribute.String(StreamChannelKey, channel))
	}
	if networkID != 0 {
		attrs = append(attrs, attribute.Int(StreamNetworkIDKey, int(networkID)))
	}
	if serviceID != 0 {
		attrs = append(attrs, attribute.Int(StreamServiceIDKey, int(serviceID)))
	}
	if eventID != 0 {
		attrs = append(attrs, attribute.Int(StreamEventIDKey, int(eventID)))
	}
	return attrs
}

// SchedulerAttributes records the outcome of a device selection.
func SchedulerAttributes(device int, step string, priority, attempts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(TunerDeviceKey, device),
		attribute.String(TunerStepKey, step),
		attribute.Int(TunerPriorityKey, priority),
		attribute.Int(TunerAttemptsKey, attempts),
	}
}

// EPGAttributes creates EPG gathering span attributes.
func EPGAttributes(networkID uint16, channels, events int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(EPGNetworkIDKey, int(networkID)),
		attribute.Int(EPGChannelsKey, channels),
		attribute.Int(EPGEventsKey, events),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
