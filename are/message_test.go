package are

import "testing"

func TestNewSensedDecidedCompleteTags(t *testing.T) {
	s := NewSensed("op1", map[string]any{"a": 1})
	if s.Tag() != TagSensed || s.OpID() != "op1" {
		t.Fatalf("unexpected sensed message: %+v", s)
	}
	d := NewDecided("op1", nil)
	if d.Tag() != TagDecided {
		t.Fatalf("unexpected decided tag: %v", d.Tag())
	}
	c := NewComplete("op1", nil)
	if c.Tag() != TagComplete {
		t.Fatalf("unexpected complete tag: %v", c.Tag())
	}
}

func TestIdleMessageTag(t *testing.T) {
	var m Message = IdleMessage{}
	if m.Tag() != TagIdle {
		t.Fatalf("expected IDLE tag, got %v", m.Tag())
	}
	if _, ok := m.(OperationCarrier); ok {
		t.Fatalf("IdleMessage must not implement OperationCarrier")
	}
}

func TestControlMessageCarriesOperationID(t *testing.T) {
	cm := ControlMessage{OperationID: "op9", ControlID: "c1", Payload: map[string]any{"pause": true}}
	if cm.Tag() != TagControl {
		t.Fatalf("expected CONTROL tag, got %v", cm.Tag())
	}
	if cm.OpID() != "op9" {
		t.Fatalf("expected op9, got %q", cm.OpID())
	}
}
