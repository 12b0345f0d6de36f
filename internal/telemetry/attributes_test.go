// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/sessions", "http://localhost:5000/sessions", 200)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/sessions")
	verifyAttribute(t, attrs, HTTPURLKey, "http://localhost:5000/sessions")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestWorkItemAttributes(t *testing.T) {
	attrs := WorkItemAttributes("token-refresh:abc", "01HX", 50, 2)
	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, WorkItemNameKey, "token-refresh:abc")
	verifyAttribute(t, attrs, WorkItemIDKey, "01HX")
	verifyIntAttribute(t, attrs, WorkItemPriorityKey, 50)
	verifyIntAttribute(t, attrs, WorkItemAttemptKey, 2)

	if got := len(WorkItemAttributes("x", "", 1, 1)); got != 3 {
		t.Errorf("Expected id to be omitted, got %d attributes", got)
	}
}

func TestOutcomeAttributes(t *testing.T) {
	attrs := OutcomeAttributes("failed", errors.New("boom"))
	verifyAttribute(t, attrs, WorkItemOutcomeKey, "failed")
	verifyAttribute(t, attrs, ErrorKey, "boom")

	if got := len(OutcomeAttributes("completed", nil)); got != 1 {
		t.Errorf("Expected 1 attribute without error, got %d", got)
	}
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if got := attr.Value.AsString(); got != want {
				t.Errorf("attribute %s = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if got := attr.Value.AsInt64(); got != want {
				t.Errorf("attribute %s = %d, want %d", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}
