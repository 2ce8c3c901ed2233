package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCorrelationSpanProcessorTagsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&correlationSpanProcessor{}),
		sdktrace.WithSpanProcessor(recorder),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-42")
	_, span := tp.Tracer("test").Start(ctx, "hierarchy.Create")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("correlation_id", "cid-42"))
}

func TestNewProviderDisabledHasNoExporter(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "congregate", SamplingRatio: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Start(context.Background(), "assignment.BulkAssign")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter(context.Background(), "carrier-pigeon", "")
	assert.Error(t, err)
}

type observerStub struct {
	operation string
	kind      string
}

func (o *observerStub) ObserveOperation(operation, kind string, _ time.Duration) {
	o.operation = operation
	o.kind = kind
}

func TestTrackReportsErrorKind(t *testing.T) {
	obs := &observerStub{}
	_, done := Track(context.Background(), "hierarchy.Reparent", obs)
	done(orgerr.New(orgerr.KindCycleDetected, "cycle_detected", "cycle"))

	assert.Equal(t, "hierarchy.Reparent", obs.operation)
	assert.Equal(t, "cycle_detected", obs.kind)

	_, done = Track(context.Background(), "hierarchy.Create", obs)
	done(errors.New("disk full"))
	assert.Equal(t, "internal", obs.kind)

	_, done = Track(context.Background(), "hierarchy.Create", nil)
	done(nil)
	assert.Equal(t, "", ErrorKind(nil))
}
