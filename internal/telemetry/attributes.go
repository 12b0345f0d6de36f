// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

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
	HTTPURLKey        = "http.url"

	// Work item attributes
	WorkItemNameKey     = "work_item.name"
	WorkItemIDKey       = "work_item.id"
	WorkItemPriorityKey = "work_item.priority"
	WorkItemAttemptKey  = "work_item.attempt"
	WorkItemOutcomeKey  = "work_item.outcome"

	// Error attributes
	ErrorKey = "error"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// WorkItemAttributes describes one dispatch attempt of a queued item.
func WorkItemAttributes(name, id string, priority, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(WorkItemNameKey, name),
		attribute.Int(WorkItemPriorityKey, priority),
		attribute.Int(WorkItemAttemptKey, attempt),
	}
	if id != "" {
		attrs = append(attrs, attribute.String(WorkItemIDKey, id))
	}
	return attrs
}

// OutcomeAttributes records how an attempt ended.
func OutcomeAttributes(outcome string, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(WorkItemOutcomeKey, outcome)}
	if err != nil {
		attrs = append(attrs, attribute.String(ErrorKey, err.Error()))
	}
	return attrs
}
