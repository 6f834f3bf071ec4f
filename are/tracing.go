package are

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans in whatever SDK is wired in by
// the embedding application (go.opentelemetry.io/otel/sdk), the teacher's
// own tracing choice.
const tracerName = "github.com/ark-go/guardian/are"

// Tracer returns the package-wide tracer. Call otel.SetTracerProvider
// before starting the pump if a non-default exporter is wanted.
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartOperationSpan opens one operation span named after stage. The pump
// opens one for every non-idle message it dispatches, and
// PersistedStateMachine.Start opens one per state-machine run.
func StartOperationSpan(ctx context.Context, operationID string, stage Stage) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "operation."+string(stage),
		trace.WithAttributes(
			attribute.String("guardian.operation_id", operationID),
			attribute.String("guardian.stage", string(stage)),
		),
	)
}

// StartNodeSpan opens one span per state-machine node transition.
func StartNodeSpan(ctx context.Context, sessionID, nodeName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "node."+nodeName,
		trace.WithAttributes(
			attribute.String("guardian.session_id", sessionID),
			attribute.String("guardian.node", nodeName),
		),
	)
}
