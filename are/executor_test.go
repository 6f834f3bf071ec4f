package are

import (
	"context"
	"testing"
	"time"
)

func TestExecutorRunsWorkAndDrainsOnIdle(t *testing.T) {
	fn := func(ctx context.Context, operationID string, params map[string]any) (map[string]any, error) {
		return map[string]any{"doubled": params["n"].(int) * 2}, nil
	}
	ex, err := NewExecutor(2, 8, fn, nil, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	defer ex.Close()

	decided := NewDecided("op1", map[string]any{"n": 21})
	if err := ex.Dispatch(nil, decided); err != nil {
		t.Fatalf("dispatch decided: %v", err)
	}

	var got OperationMessage
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		found := false
		next := func(m Message) error { got = m.(OperationMessage); found = true; return nil }
		if err := ex.Dispatch(next, IdleMessage{}); err != nil {
			t.Fatalf("dispatch idle: %v", err)
		}
		if found {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.Tag() != TagComplete {
		t.Fatalf("expected a COMPLETE message, got %+v", got)
	}
	if got.Params["doubled"] != 42 {
		t.Fatalf("expected doubled=42, got %+v", got.Params)
	}
}

func TestNewWorkerPoolRejectsOutOfRangeCount(t *testing.T) {
	fn := func(ctx context.Context, operationID string, params map[string]any) (map[string]any, error) {
		return nil, nil
	}
	if _, err := NewWorkerPool(0, 1, fn, nil, nil); !IsKind(err, KindInvalidOperation) {
		t.Fatalf("expected KindInvalidOperation for n=0, got %v", err)
	}
	if _, err := NewWorkerPool(1001, 1, fn, nil, nil); !IsKind(err, KindInvalidOperation) {
		t.Fatalf("expected KindInvalidOperation for n=1001, got %v", err)
	}
}

func TestStateMachineExecutorControlDedup(t *testing.T) {
	run := func(ctx context.Context, operationID string, params map[string]any, deliver func(ControlPayload), persist func(Reason, *Session, string, string)) error {
		return nil
	}
	e, err := NewStateMachineExecutor(1, 4, run, nil, nil)
	if err != nil {
		t.Fatalf("new state machine executor: %v", err)
	}
	defer e.Close()

	if _, ok := e.GetControlMessage("op1", ""); ok {
		t.Fatalf("expected no control message before any delivered")
	}

	cm := ControlMessage{OperationID: "op1", ControlID: "c1", Payload: map[string]any{"pause": true}}
	if err := e.Dispatch(nil, cm); err != nil {
		t.Fatalf("dispatch control: %v", err)
	}

	p, ok := e.GetControlMessage("op1", "")
	if !ok || p.ControlID != "c1" {
		t.Fatalf("expected control c1 delivered, got %+v ok=%v", p, ok)
	}

	// Same control id again must be treated as already-seen.
	if _, ok := e.GetControlMessage("op1", "c1"); ok {
		t.Fatalf("expected dedup against lastControlID to suppress repeat delivery")
	}
}

func TestStateMachineExecutorRunsAndDrainsStateComplete(t *testing.T) {
	run := func(ctx context.Context, operationID string, params map[string]any, deliver func(ControlPayload), persist func(Reason, *Session, string, string)) error {
		persist(ReasonStarted, NewSession(operationID, nil), "", "first")
		return nil
	}
	e, err := NewStateMachineExecutor(1, 4, run, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer e.Close()

	if err := e.Dispatch(nil, NewDecided("op2", nil)); err != nil {
		t.Fatalf("dispatch decided: %v", err)
	}

	var got []Message
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(got) < 2 {
		next := func(m Message) error { got = append(got, m); return nil }
		if err := e.Dispatch(next, IdleMessage{}); err != nil {
			t.Fatalf("dispatch idle: %v", err)
		}
		if len(got) < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected STATE_COMPLETE then COMPLETE, got %d messages: %+v", len(got), got)
	}
	if got[0].Tag() != TagStateComplete {
		t.Fatalf("expected first message STATE_COMPLETE, got %v", got[0].Tag())
	}
	if got[1].Tag() != TagComplete {
		t.Fatalf("expected second message COMPLETE, got %v", got[1].Tag())
	}
}
