package are

import (
	"context"
	"testing"
)

func TestStartOperationSpanReturnsContextAndSpan(t *testing.T) {
	ctx, span := StartOperationSpan(context.Background(), "op1", StageSensed)
	defer span.End()
	if ctx == nil {
		t.Fatalf("expected a non-nil span context")
	}
	if span == nil {
		t.Fatalf("expected a non-nil span")
	}
}

func TestStartNodeSpanDoesNotPanicWithoutAProvider(t *testing.T) {
	_, span := StartNodeSpan(context.Background(), "session1", "nodeA")
	span.End()
}
