package are

import (
	"context"
	"testing"
	"time"
)

func TestCallbackSensorDrainsOneEventPerIdle(t *testing.T) {
	s := NewCallbackSensor(4)
	s.Activate()
	s.OnEvent(Event{OperationID: "op1", Params: map[string]any{"a": 1}})
	s.OnEvent(Event{OperationID: "op2", Params: map[string]any{"b": 2}})

	var seen []Message
	next := func(m Message) error { seen = append(seen, m); return nil }

	if err := s.Dispatch(next, IdleMessage{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one message drained per idle, got %d", len(seen))
	}
	if err := s.Dispatch(next, IdleMessage{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected second idle to drain the second event, got %d", len(seen))
	}
}

func TestCallbackSensorIgnoresWhenInactive(t *testing.T) {
	s := NewCallbackSensor(4)
	s.OnEvent(Event{OperationID: "op1"})
	called := false
	next := func(m Message) error { called = true; return nil }
	if err := s.Dispatch(next, IdleMessage{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatalf("expected inactive sensor not to dispatch")
	}
}

func TestCallbackSensorGeneratesIDWhenAbsent(t *testing.T) {
	s := NewCallbackSensor(1)
	s.Activate()
	s.OnEvent(Event{Params: map[string]any{"a": 1}})
	var got OperationMessage
	next := func(m Message) error { got = m.(OperationMessage); return nil }
	if err := s.Dispatch(next, IdleMessage{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.OperationID == "" {
		t.Fatalf("expected a generated operation id")
	}
}

func TestCallbackSensorDeactivateDrainsResidualQueue(t *testing.T) {
	s := NewCallbackSensor(4)
	s.Activate()
	s.OnEvent(Event{OperationID: "stale"})
	s.Deactivate()

	s.Activate()
	called := false
	next := func(m Message) error { called = true; return nil }
	if err := s.Dispatch(next, IdleMessage{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatalf("expected deactivate to have drained the stale event")
	}
}

func TestPullSensorFetchesOnInterval(t *testing.T) {
	fetched := make(chan struct{}, 1)
	fetch := func(ctx context.Context) (Event, bool) {
		select {
		case fetched <- struct{}{}:
		default:
		}
		return Event{OperationID: "pulled"}, true
	}
	p := NewPullSensor(4, fetch, 10*time.Millisecond)
	p.Activate()
	defer p.Deactivate()

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatalf("expected fetch to be invoked within timeout")
	}

	var got Message
	next := func(m Message) error { got = m; return nil }
	deadline := time.Now().Add(time.Second)
	for got == nil && time.Now().Before(deadline) {
		_ = p.Dispatch(next, IdleMessage{})
		if got == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if got == nil {
		t.Fatalf("expected a sensed message eventually")
	}
}
