package tracing

import (
	"context"
	"time"

	"github.com/smallbiznis/congregate/internal/orgerr"
	"go.opentelemetry.io/otel/codes"
)

// OperationObserver receives the outcome of a tracked operation.
type OperationObserver interface {
	ObserveOperation(operation, kind string, duration time.Duration)
}

// Track opens a span for operation and returns a func that ends it, recording the
// error kind and duration on observer.
func Track(ctx context.Context, operation string, observer OperationObserver) (context.Context, func(error)) {
	ctx, span := Start(ctx, operation)
	started := time.Now()
	return ctx, func(err error) {
		kind := ErrorKind(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
		if observer != nil {
			observer.ObserveOperation(operation, kind, time.Since(started))
		}
	}
}

// ErrorKind labels err for metrics: the orgerr kind, "internal" for untyped errors,
// and "" for success.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := orgerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}
