package are

import "fmt"

// DecisionMaker converts SENSED messages into DECIDED messages. Exactly one
// must be registered with a Pump (spec.md §4.4).
type DecisionMaker interface {
	Listener
	// Decide handles a SENSED OperationMessage, returning the DECIDED
	// message to dispatch next.
	Decide(m OperationMessage) (OperationMessage, error)
}

// KeyMappingDecisionMaker looks up params[FromKey] in Mapping and attaches
// the resolved action name under InnerExecutorKey. Grounded on
// ark/are/decision.py's KeyMappingDecisionMaker.
type KeyMappingDecisionMaker struct {
	BaseListener
	FromKey string
	Mapping map[string]string
}

// NewKeyMappingDecisionMaker constructs a decision maker reading fromKey out
// of each SENSED event's params and mapping its value through mapping.
func NewKeyMappingDecisionMaker(fromKey string, mapping map[string]string) *KeyMappingDecisionMaker {
	return &KeyMappingDecisionMaker{
		BaseListener: BaseListener{Concerns: []Tag{TagSensed, TagComplete}},
		FromKey:      fromKey,
		Mapping:      mapping,
	}
}

// Decide implements DecisionMaker. It fails with KindTypeMismatch when
// FromKey is absent from params or its value is unmapped, mirroring
// ETypeMismatch.
func (k *KeyMappingDecisionMaker) Decide(m OperationMessage) (OperationMessage, error) {
	raw, ok := m.Params[k.FromKey]
	if !ok {
		return OperationMessage{}, newErr(KindTypeMismatch, "KeyMappingDecisionMaker.Decide", fmt.Errorf("params missing key %q", k.FromKey))
	}
	strVal, ok := raw.(string)
	if !ok {
		return OperationMessage{}, newErr(KindTypeMismatch, "KeyMappingDecisionMaker.Decide", fmt.Errorf("params[%q] is not a string", k.FromKey))
	}
	action, ok := k.Mapping[strVal]
	if !ok {
		return OperationMessage{}, newErr(KindTypeMismatch, "KeyMappingDecisionMaker.Decide", fmt.Errorf("no mapping for %q=%q", k.FromKey, strVal))
	}

	params := make(map[string]any, len(m.Params)+1)
	for k, v := range m.Params {
		params[k] = v
	}
	params[InnerExecutorKey] = action
	return NewDecided(m.OperationID, params), nil
}

// Dispatch implements Listener. COMPLETE is ignored; SENSED is converted
// via Decide and handed to next. Unknown tags raise KindUnknownEvent.
func (k *KeyMappingDecisionMaker) Dispatch(next func(Message) error, m Message) error {
	switch msg := m.(type) {
	case OperationMessage:
		switch msg.Tag() {
		case TagSensed:
			decided, err := k.Decide(msg)
			if err != nil {
				return err
			}
			return next(decided)
		case TagComplete:
			return nil
		}
	case IdleMessage:
		return nil
	}
	return newErr(KindUnknownEvent, "KeyMappingDecisionMaker.Dispatch", fmt.Errorf("unexpected message %T", m))
}

// StateMachineDecisionMaker passes params through unchanged, relying on the
// state-machine executor for all branching logic. Grounded on
// ark/are/decision.py's StateMachineDecisionMaker.
type StateMachineDecisionMaker struct {
	BaseListener
}

// NewStateMachineDecisionMaker constructs a passthrough decision maker.
func NewStateMachineDecisionMaker() *StateMachineDecisionMaker {
	return &StateMachineDecisionMaker{BaseListener: BaseListener{Concerns: []Tag{TagSensed, TagComplete}}}
}

func (s *StateMachineDecisionMaker) Decide(m OperationMessage) (OperationMessage, error) {
	return NewDecided(m.OperationID, m.Params), nil
}

func (s *StateMachineDecisionMaker) Dispatch(next func(Message) error, m Message) error {
	switch msg := m.(type) {
	case OperationMessage:
		switch msg.Tag() {
		case TagSensed:
			decided, err := s.Decide(msg)
			if err != nil {
				return err
			}
			return next(decided)
		case TagComplete:
			return nil
		}
	case IdleMessage:
		return nil
	}
	return newErr(KindUnknownEvent, "StateMachineDecisionMaker.Dispatch", fmt.Errorf("unexpected message %T", m))
}
