// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"net/http"

	xglog "github.com/ManuGH/unchained/internal/log"
)

const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID carries the request id inside problem bodies.
	JSONKeyRequestID = "requestId"
	// ContentType is the RFC 7807 media type.
	ContentType = "application/problem+json"
)

// Details is the RFC 7807 body.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Write sends a problem response. type is a short machine identifier
// (e.g. "SessionExpired"), title a human label.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	p := Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.EscapedPath()
		p.RequestID = xglog.RequestIDFromContext(r.Context())
	}
	if p.RequestID == "" {
		p.RequestID = w.Header().Get(HeaderRequestID)
	}
	if p.RequestID != "" {
		w.Header().Set(HeaderRequestID, p.RequestID)
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(p); err != nil {
		logger := xglog.WithComponent("problem")
		logger.Error().
			Err(err).
			Str("type", problemType).
			Int(xglog.FieldStatus, status).
			Msg("failed to encode problem response")
	}
}

// BadRequest writes a 400 problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusBadRequest, "BadRequest", "Bad Request", detail)
}

// Forbidden writes a 403 problem.
func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusForbidden, "Forbidden", "Forbidden", detail)
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusNotFound, "NotFound", "Not Found", detail)
}

// Internal writes a 500 problem without leaking the cause.
func Internal(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusInternalServerError, "InternalError", "Internal Server Error", "an unexpected error occurred")
}
