// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ManuGH/unchained/internal/config"
)

func TestNewProvider_DisabledInstallsNoop(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, Exporter: "grpc"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if provider.tp != nil {
		t.Error("disabled provider must not own a tracer provider")
	}

	_, span := Tracer("test").Start(context.Background(), "noop-check")
	defer span.End()
	if span.IsRecording() {
		t.Error("noop tracer span should not record")
	}
	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 {
		t.Error("propagators must be installed even when tracing is disabled")
	}
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "zipkin"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("expected ErrUnknownExporter, got %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		wantHost   string
		wantSecure bool
	}{
		{"otel:4317", "otel:4317", false},
		{"http://otel:4318/", "otel:4318", false},
		{"https://collector.example.com:4318", "collector.example.com:4318", true},
	}
	for _, tt := range tests {
		host, secure := splitEndpoint(tt.in)
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Errorf("splitEndpoint(%q) = %q, %v; want %q, %v", tt.in, host, secure, tt.wantHost, tt.wantSecure)
		}
	}
}

func TestSamplerIsParentBased(t *testing.T) {
	tests := []struct {
		rate float64
		root string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		desc := sampler(tt.rate).Description()
		if !strings.HasPrefix(desc, "ParentBased") || !strings.Contains(desc, tt.root) {
			t.Errorf("sampler(%v) = %s, want ParentBased with %s", tt.rate, desc, tt.root)
		}
	}
}

func TestTracerProviderExportsWithResource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(context.Background(), Config{
		ServiceName:    "unchained",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		SamplingRate:   1,
	}, exp)
	if err != nil {
		t.Fatalf("newTracerProvider() error = %v", err)
	}
	p := &Provider{tp: tp}

	_, span := tp.Tracer("test").Start(context.Background(), "work_item token-refresh")
	span.End()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	// The in-memory exporter drops its spans on shutdown, so read them first.
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == "unchained" {
			found = true
		}
	}
	if !found {
		t.Error("service.name missing from span resource")
	}
}

func TestProviderShutdownIsIdempotent(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), Config{ServiceName: "unchained"}, tracetest.NewInMemoryExporter())
	if err != nil {
		t.Fatal(err)
	}
	p := &Provider{tp: tp}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		}()
	}
	wg.Wait()

	var disabled *Provider
	if err := disabled.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() = %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	app := config.Defaults()
	app.Version = "1.2.3"
	app.Telemetry = config.TelemetryConfig{Enabled: true, Exporter: "http", Endpoint: "otel:4318", SamplingRate: 0.25}

	cfg := ConfigFrom(app, "unchained", "test")
	want := Config{
		Enabled:        true,
		ServiceName:    "unchained",
		ServiceVersion: "1.2.3",
		Environment:    "test",
		Exporter:       "http",
		Endpoint:       "otel:4318",
		SamplingRate:   0.25,
	}
	if cfg != want {
		t.Errorf("ConfigFrom() = %+v, want %+v", cfg, want)
	}
}
