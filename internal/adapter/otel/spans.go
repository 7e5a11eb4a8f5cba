package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "toolgate"

// StartAuthorizeSpan starts a span covering a full authorization decision,
// including any approval wait.
func StartAuthorizeSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "authorize",
		trace.WithAttributes(
			attribute.String("command", command),
		),
	)
}

// StartApprovalSpan starts a span for the approval wait of a single request.
func StartApprovalSpan(ctx context.Context, requestID string, timeoutSecs int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.wait",
		trace.WithAttributes(
			attribute.String("approval.request_id", requestID),
			attribute.Int("approval.timeout_secs", timeoutSecs),
		),
	)
}
