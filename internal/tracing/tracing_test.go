package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func TestHeadersRoundTripContinueTrace(t *testing.T) {
	setupRecorder(t)

	ctx, producer := StartSpan(context.Background(), "scheduler.enqueue")
	headers := InjectHeaders(ctx)
	producer.End()

	if headers["traceparent"] == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	consumerCtx, consumer := StartSpan(ExtractHeaders(context.Background(), headers), "delivery.process")
	defer consumer.End()

	if got, want := TraceID(consumerCtx), TraceID(ctx); got != want {
		t.Fatalf("consumer trace id = %q, want %q", got, want)
	}
}

func TestInjectHeadersWithoutSpan(t *testing.T) {
	setupRecorder(t)
	if h := InjectHeaders(context.Background()); h != nil {
		t.Fatalf("expected no headers, got %v", h)
	}
	if TraceID(context.Background()) != "" {
		t.Fatal("expected empty trace id")
	}
}

func TestSetSpanError(t *testing.T) {
	rec := setupRecorder(t)

	ctx, span := StartSpan(context.Background(), "delivery.process")
	SetSpanError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended[0].Status())
	}
}

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"http://otel-collector:4318":  "otel-collector:4318",
		"https://otel-collector:4318": "otel-collector:4318",
		"otel-collector:4318":         "otel-collector:4318",
	}
	for in, want := range tests {
		if got := hostPort(in); got != want {
			t.Errorf("hostPort(%q) = %q, want %q", in, got, want)
		}
	}
}
