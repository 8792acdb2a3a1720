// SPDX-License-Identifier: MIT
package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/tuners", 200)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/tuners")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestStreamAttributes(t *testing.T) {
	tests := []struct {
		name        string
		channelType string
		channel     string
		networkID   uint16
		serviceID   uint16
		eventID     uint16
		wantLen     int
	}{
		{
			name:        "program stream",
			channelType: "GR",
			channel:     "27",
			networkID:   32736,
			serviceID:   1024,
			eventID:     5001,
			wantLen:     5,
		},
		{
			name:        "channel only",
			channelType: "BS",
			channel:     "BS15_0",
			wantLen:     2,
		},
		{
			name:    "empty",
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := StreamAttributes(tt.channelType, tt.channel, tt.networkID, tt.serviceID, tt.eventID)

			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}

			if tt.channel != "" {
				verifyAttribute(t, attrs, StreamChannelKey, tt.channel)
			}
			if tt.serviceID != 0 {
				verifyIntAttribute(t, attrs, StreamServiceIDKey, int(tt.serviceID))
			}
			if tt.eventID != 0 {
				verifyIntAttribute(t, attrs, StreamEventIDKey, int(tt.eventID))
			}
		})
	}
}

func TestSchedulerAttributes(t *testing.T) {
	attrs := SchedulerAttributes(1, "preempt", 5, 2)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyIntAttribute(t, attrs, TunerDeviceKey, 1)
	verifyAttribute(t, attrs, TunerStepKey, "preempt")
	verifyIntAttribute(t, attrs, TunerPriorityKey, 5)
	verifyIntAttribute(t, attrs, TunerAttemptsKey, 2)
}

func TestEPGAttributes(t *testing.T) {
	attrs := EPGAttributes(4, 2, 1500)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyIntAttribute(t, attrs, EPGNetworkIDKey, 4)
	verifyIntAttribute(t, attrs, EPGChannelsKey, 2)
	verifyIntAttribute(t, attrs, EPGEventsKey, 1500)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("no_tuner")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "no_tuner")
}

// Helper functions for attribute verification

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
