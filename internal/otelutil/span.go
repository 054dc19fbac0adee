// Package otelutil provides the thin tracing helpers the shim's RPC
// handlers and subsystems use to wrap a call in a span and map its
// result to a span status. Exporter setup (OTLP endpoint, sampler
// selection, batching) is an external concern of the process that
// boots the shim; this package only vends the tracer.
package otelutil

import (
	"context"
	"errors"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span named name and, if it is recording, attaches
// the span's context to ctx's logger entry. The entry's formatter does
// not print trace/span ids itself; only a logging hook that reads
// entry.Context can recover them, and this module installs none.
func StartSpan(ctx context.Context, name string, o ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx, s := otel.Tracer("containerd-shim-wasm-v1").Start(ctx, name, o...)
	if s.IsRecording() {
		// Re-anchor the context's logger entry so a logging hook could
		// recover this span's trace/span id from entry.Context.
		ctx = log.WithLogger(ctx, log.G(ctx).WithContext(ctx))
	}
	return ctx, s
}

// SetSpanStatus sets span's status from err, defaulting to codes.Ok
// when err is nil.
func SetSpanStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(toOtelCode(err), err.Error())
}

func toOtelCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Error
	case errors.Is(err, context.DeadlineExceeded):
		return codes.Error
	case errdefs.IsNotFound(err),
		errdefs.IsAlreadyExists(err),
		errdefs.IsInvalidArgument(err),
		errdefs.IsFailedPrecondition(err),
		errdefs.IsNotImplemented(err):
		// Expected, typed failures: reported with the same codes.Error
		// status as an unexpected one.
		return codes.Error
	default:
		return codes.Error
	}
}

var WithServerSpanKind = trace.WithSpanKind(trace.SpanKindServer)
var WithClientSpanKind = trace.WithSpanKind(trace.SpanKindClient)
