package are

import (
	"context"
	"testing"

	"github.com/ark-go/guardian/coordstore"
)

func TestContextSaveRequiresLock(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")
	err := c.Save(context.Background())
	if !IsKind(err, KindInvalidOperation) {
		t.Fatalf("expected KindInvalidOperation without lock, got %v", err)
	}
}

func TestContextSaveAndLoadRoundTrip(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")
	c.SetLock(true)

	if err := c.UpdateExtend(context.Background(), "k", "v"); err != nil {
		t.Fatalf("update extend: %v", err)
	}

	op := c.CreateOperation("op1", map[string]any{"x": 1})
	op.LastStage = StageStateMachine
	if err := c.SaveOperation(context.Background(), op); err != nil {
		t.Fatalf("save operation: %v", err)
	}

	loaded, errs := LoadContext(context.Background(), "g1", store, "/g1")
	if len(errs) != 0 {
		t.Fatalf("unexpected load errors: %v", errs)
	}
	v, ok := loaded.GetExtend("k")
	if !ok || v != "v" {
		t.Fatalf("expected extend round-trip, got %v ok=%v", v, ok)
	}
	got := loaded.GetOperation("op1")
	if got == nil {
		t.Fatalf("expected operation op1 to be loaded")
	}
	if got.LastStage != StageStateMachine {
		t.Fatalf("expected last stage round-trip, got %v", got.LastStage)
	}
}

func TestLoadContextToleratesMissingContextNode(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c, errs := LoadContext(context.Background(), "fresh", store, "/fresh")
	if len(errs) != 0 {
		t.Fatalf("expected no errors for a fresh guardian, got %v", errs)
	}
	if c.GuardianID != "fresh" {
		t.Fatalf("expected fresh context, got %+v", c)
	}
}

func TestOrphanedReturnsOnlyStageDecidedUnfinished(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")

	stuck := c.CreateOperation("stuck", nil)
	stuck.LastStage = StageDecided

	running := c.CreateOperation("running", nil)
	running.LastStage = StageStateMachine

	finished := c.CreateOperation("finished", nil)
	finished.LastStage = StageDecided
	finished.Status = OperationFinished

	orphaned := c.Orphaned()
	if len(orphaned) != 1 || orphaned[0].OperationID != "stuck" {
		t.Fatalf("expected only 'stuck' orphaned, got %+v", orphaned)
	}
}

func TestReconcileOnGainInjectsStateMachineAndSensedStageOperations(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")

	smOp := c.CreateOperation("sm", map[string]any{"a": 1})
	smOp.LastStage = StageStateMachine

	sensedOp := c.CreateOperation("sensed", map[string]any{"b": 2})
	sensedOp.LastStage = StageSensed

	decidedOp := c.CreateOperation("decided", nil)
	decidedOp.LastStage = StageDecided

	inBacklog := c.CreateOperation("already-queued", nil)
	inBacklog.LastStage = StageStateMachine
	c.MessageList = append(c.MessageList, NewDecided("already-queued", nil))

	injected := c.ReconcileOnGain()
	if len(injected) != 2 {
		t.Fatalf("expected exactly two injected messages, got %d: %+v", len(injected), injected)
	}

	byID := make(map[string]OperationMessage, len(injected))
	for _, m := range injected {
		byID[m.OperationID] = m
	}
	sm, ok := byID["sm"]
	if !ok || sm.Tag() != TagDecided {
		t.Fatalf("expected 'sm' to be reinjected as DECIDED, got %+v", byID)
	}
	sensed, ok := byID["sensed"]
	if !ok || sensed.Tag() != TagSensed {
		t.Fatalf("expected 'sensed' to be reinjected as SENSED, got %+v", byID)
	}
	if _, ok := byID["decided"]; ok {
		t.Fatalf("expected the StageDecided operation to be left for Orphaned, got %+v", byID)
	}
}
