package otelx

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, span := otel.Tracer("test").Start(t.Context(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("disabled tracing should still mint valid span ids")
	}
	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 {
		t.Fatal("propagator not installed")
	}
}

func TestSampler_Clamps(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("ffffffffffffffffffffffffffffffff")
	params := sdktrace.SamplingParameters{ParentContext: t.Context(), TraceID: tid, Name: "op"}

	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{-1, sdktrace.Drop},
		{0, sdktrace.Drop},
		{1, sdktrace.RecordAndSample},
		{7, sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).ShouldSample(params).Decision; got != tt.want {
			t.Errorf("sampler(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}
