package are

import "testing"

// TestKeyMappingDecisionMakerResolvesAction mirrors S1: a SENSED message
// carrying {"strategy": "hello"} maps to the "say_hello" action under
// InnerExecutorKey.
func TestKeyMappingDecisionMakerResolvesAction(t *testing.T) {
	dm := NewKeyMappingDecisionMaker("strategy", map[string]string{"hello": "say_hello"})
	sensed := NewSensed("op1", map[string]any{"strategy": "hello"})

	decided, err := dm.Decide(sensed)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Tag() != TagDecided {
		t.Fatalf("expected DECIDED, got %v", decided.Tag())
	}
	if got := decided.Params[InnerExecutorKey]; got != "say_hello" {
		t.Fatalf("expected say_hello, got %v", got)
	}
	if decided.Params["strategy"] != "hello" {
		t.Fatalf("expected original params preserved, got %+v", decided.Params)
	}
}

func TestKeyMappingDecisionMakerMissingKey(t *testing.T) {
	dm := NewKeyMappingDecisionMaker("strategy", map[string]string{"hello": "say_hello"})
	_, err := dm.Decide(NewSensed("op1", map[string]any{}))
	if !IsKind(err, KindTypeMismatch) {
		t.Fatalf("expected KindTypeMismatch, got %v", err)
	}
}

func TestKeyMappingDecisionMakerUnmappedValue(t *testing.T) {
	dm := NewKeyMappingDecisionMaker("strategy", map[string]string{"hello": "say_hello"})
	_, err := dm.Decide(NewSensed("op1", map[string]any{"strategy": "goodbye"}))
	if !IsKind(err, KindTypeMismatch) {
		t.Fatalf("expected KindTypeMismatch, got %v", err)
	}
}

func TestKeyMappingDecisionMakerDispatchRoutesSensedToNext(t *testing.T) {
	dm := NewKeyMappingDecisionMaker("strategy", map[string]string{"hello": "say_hello"})
	var forwarded Message
	next := func(m Message) error { forwarded = m; return nil }

	sensed := NewSensed("op1", map[string]any{"strategy": "hello"})
	if err := dm.Dispatch(next, sensed); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if forwarded == nil || forwarded.Tag() != TagDecided {
		t.Fatalf("expected a DECIDED message forwarded, got %+v", forwarded)
	}
}

func TestKeyMappingDecisionMakerDispatchIgnoresComplete(t *testing.T) {
	dm := NewKeyMappingDecisionMaker("strategy", map[string]string{"hello": "say_hello"})
	called := false
	next := func(m Message) error { called = true; return nil }
	if err := dm.Dispatch(next, NewComplete("op1", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatalf("expected COMPLETE to be ignored, not forwarded")
	}
}

func TestStateMachineDecisionMakerPassesParamsThrough(t *testing.T) {
	dm := NewStateMachineDecisionMaker()
	decided, err := dm.Decide(NewSensed("op2", map[string]any{"x": 1}))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Params["x"] != 1 {
		t.Fatalf("expected passthrough params, got %+v", decided.Params)
	}
}
