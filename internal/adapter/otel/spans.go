package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "steward"

// StartSessionSpan starts a span covering one agent session.
func StartSessionSpan(ctx context.Context, sessionID, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		),
	)
}

// StartTaskSpan starts a span for one dispatched task step.
func StartTaskSpan(ctx context.Context, sessionID, taskID, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("task.id", taskID),
			attribute.String("task.role", role),
		),
	)
}

// StartModelCallSpan starts a span for one chat-client request.
func StartModelCallSpan(ctx context.Context, model string, tools int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model.call",
		trace.WithAttributes(
			attribute.String("model.name", model),
			attribute.Int("model.tools_offered", tools),
		),
	)
}
