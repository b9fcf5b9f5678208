package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drfirst/go-caregap/internal/config"
)

func TestInitDisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig("caregap-test"))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if p.Enabled() {
		t.Error("tracing should be disabled by default")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of a disabled provider failed: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	tc := FromConfig("caregap-api", &config.Config{
		Env:          "staging",
		RecordSource: config.SourceFHIR,
		OTelEnabled:  true,
		OTelEndpoint: "collector:4317",
	})

	if !tc.Enabled || tc.Environment != "staging" || tc.OTLPEndpoint != "collector:4317" {
		t.Errorf("unexpected config %+v", tc)
	}
	if tc.ServiceName != "caregap-api" || tc.RecordSource != config.SourceFHIR {
		t.Errorf("unexpected service attributes %+v", tc)
	}
	if tc.SampleRate != 1.0 {
		t.Errorf("expected full sampling by default, got %v", tc.SampleRate)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased"},
		{0, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("samplerFor(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestFail(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "load")
	Fail(span, errors.New("connection refused"), "")
	span.End()

	_, ok := tracer.Start(context.Background(), "ok")
	Fail(ok, nil, "ignored")
	ok.End()

	_, described := tracer.Start(context.Background(), "described")
	Fail(described, errors.New("timeout"), "load patient record")
	described.End()

	ended := sr.Ended()
	if len(ended) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(ended))
	}

	if s := ended[0].Status(); s.Code != codes.Error || s.Description != "connection refused" {
		t.Errorf("unexpected status %+v", s)
	}
	if len(ended[0].Events()) != 1 || ended[0].Events()[0].Name != "exception" {
		t.Errorf("expected an exception event, got %+v", ended[0].Events())
	}
	if s := ended[1].Status(); s.Code != codes.Unset {
		t.Errorf("nil error should leave status unset, got %+v", s)
	}
	if s := ended[2].Status(); s.Description != "load patient record" {
		t.Errorf("expected custom description, got %q", s.Description)
	}
}
