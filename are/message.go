package are

// Tag identifies a message's point in the sense/decide/execute lifecycle.
type Tag string

const (
	TagIdle           Tag = "IDLE"
	TagSensed         Tag = "SENSED"
	TagDecided        Tag = "DECIDED"
	TagComplete       Tag = "COMPLETE"
	TagStateComplete  Tag = "STATE_COMPLETE"
	TagPersistSession Tag = "PERSIST_SESSION"
	TagControl        Tag = "CONTROL"
)

// Message is anything the pump can dispatch. Every non-idle message also
// implements OperationCarrier.
type Message interface {
	Tag() Tag
}

// OperationCarrier is implemented by messages that belong to a specific
// operation, which is every message except IdleMessage.
type OperationCarrier interface {
	Message
	OpID() string
}

// IdleMessage is synthesized by the pump whenever the backlog is empty.
type IdleMessage struct{}

func (IdleMessage) Tag() Tag { return TagIdle }

// OperationMessage carries an operation id and a free-form parameter map.
// SENSED, DECIDED, and COMPLETE are all OperationMessage; STATE_COMPLETE and
// PERSIST_SESSION messages are OperationMessage values too (built by
// StateMachineExecutor.persist in executor.go).
type OperationMessage struct {
	MsgTag      Tag
	OperationID string
	Params      map[string]any
}

func (m OperationMessage) Tag() Tag     { return m.MsgTag }
func (m OperationMessage) OpID() string { return m.OperationID }

// NewSensed constructs a SENSED message.
func NewSensed(operationID string, params map[string]any) OperationMessage {
	return OperationMessage{MsgTag: TagSensed, OperationID: operationID, Params: params}
}

// NewDecided constructs a DECIDED message.
func NewDecided(operationID string, params map[string]any) OperationMessage {
	return OperationMessage{MsgTag: TagDecided, OperationID: operationID, Params: params}
}

// NewComplete constructs a COMPLETE message.
func NewComplete(operationID string, params map[string]any) OperationMessage {
	return OperationMessage{MsgTag: TagComplete, OperationID: operationID, Params: params}
}

// ControlMessage carries an operator-issued control payload to a running
// persisted state machine, identified by ControlID so repeats are
// detectable (spec.md §4.9 / §8 property 5).
type ControlMessage struct {
	OperationID string
	ControlID   string
	Payload     map[string]any
}

func (m ControlMessage) Tag() Tag     { return TagControl }
func (m ControlMessage) OpID() string { return m.OperationID }

// InnerExecutorKey is the reserved params key the key-mapping decision
// maker attaches the resolved action name under (spec.md §4.6, S1).
const InnerExecutorKey = ".inner_executor_key"
