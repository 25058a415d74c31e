package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/amhsctl/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_SetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(context.Background(), tracer, "pipeline.step",
		attribute.String(otelhelper.StepIDKey, "check"),
	)
	otelhelper.SetError(span, errors.New("boom"), attribute.String(otelhelper.EndpointKey, "/api/run-check"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.step", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(otelhelper.StepIDKey, "check"))
}

func TestNoop(t *testing.T) {
	_, span := otelhelper.StartSpan(context.Background(), otelhelper.Noop(), "noop")
	otelhelper.SetOK(span)
	span.End()

	assert.False(t, span.SpanContext().IsValid())
}
