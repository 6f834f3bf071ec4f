package are

import (
	"context"
	"testing"

	"github.com/ark-go/guardian/coordstore"
)

func TestLifecycleListenerTracksPeriodsAndCompletesOperation(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")
	c.SetLock(true)

	l := NewLifecycleListener(func() *Context { return c }, nil)

	sensed := NewSensed("op1", map[string]any{"x": 1})
	if err := l.BeforeSend(context.Background(), sensed); err != nil {
		t.Fatalf("before-send sensed: %v", err)
	}

	op := c.GetOperation("op1")
	if op == nil {
		t.Fatalf("expected operation to be created on SENSED")
	}
	if op.LastStage != StageSensed {
		t.Fatalf("expected LastStage SENSED, got %v", op.LastStage)
	}
	if len(op.Periods) != 1 || op.Periods[0].Name != "sensed" {
		t.Fatalf("expected a 'sensed' period, got %+v", op.Periods)
	}

	decided := NewDecided("op1", op.Params)
	if err := l.BeforeSend(context.Background(), decided); err != nil {
		t.Fatalf("before-send decided: %v", err)
	}
	op = c.GetOperation("op1")
	if op.LastStage != StageDecided {
		t.Fatalf("expected LastStage DECIDED, got %v", op.LastStage)
	}

	complete := NewComplete("op1", map[string]any{"ok": true})
	l.AfterDispatch(context.Background(), complete)

	if c.GetOperation("op1") != nil {
		t.Fatalf("expected operation to be removed after COMPLETE")
	}
}

func TestLifecycleListenerTracksActionsFromStateMachineCheckpoints(t *testing.T) {
	store := coordstore.NewMemoryStore()
	c := NewContext("g1", store, "/g1")
	c.SetLock(true)
	c.CreateOperation("op2", nil)

	l := NewLifecycleListener(func() *Context { return c }, nil)

	started := OperationMessage{MsgTag: TagStateComplete, OperationID: "op2", Params: map[string]any{"finished": "", "current": "nodeA"}}
	l.AfterDispatch(context.Background(), started)

	op := c.GetOperation("op2")
	if len(op.Actions) != 1 || op.Actions[0].Name != "nodeA" || op.Actions[0].Status != ActionCreated {
		t.Fatalf("expected a nodeA CREATE action, got %+v", op.Actions)
	}

	advanced := OperationMessage{MsgTag: TagStateComplete, OperationID: "op2", Params: map[string]any{"finished": "nodeA", "current": "nodeB"}}
	l.AfterDispatch(context.Background(), advanced)

	op = c.GetOperation("op2")
	if len(op.Actions) != 2 {
		t.Fatalf("expected two actions, got %+v", op.Actions)
	}
	if op.Actions[0].Status != ActionFinished {
		t.Fatalf("expected nodeA to be finished in place, got %+v", op.Actions[0])
	}
	if op.Actions[1].Name != "nodeB" || op.Actions[1].Status != ActionCreated {
		t.Fatalf("expected a nodeB CREATE action, got %+v", op.Actions[1])
	}
}

func TestLifecycleListenerConcernsTagsDelegateToInner(t *testing.T) {
	l := NewLifecycleListener(func() *Context { return nil }, nil)
	for _, tag := range []Tag{TagSensed, TagDecided, TagComplete, TagStateComplete, TagPersistSession} {
		if !l.ConcernsTag(tag) {
			t.Fatalf("expected lifecycle listener to concern %v", tag)
		}
	}
	if l.ConcernsTag(TagIdle) || l.ConcernsTag(TagControl) {
		t.Fatalf("expected lifecycle listener not to concern IDLE/CONTROL")
	}
}
