package are

import (
	"fmt"
	"sync"
)

// EndNodeName is the sentinel a Node.Process returns to finish the machine,
// mirroring ark/are/graph.py's _ARK_NODE_END.
const EndNodeName = "ARK_NODE_END"

// Status is a graph's lifecycle value. Unlike the Python original this
// port's FINISHED/CANCELLED/FAILED are distinct values — the original
// collapses all three terminal states to the same numeric constant, which
// this port does not replicate.
type Status int

const (
	StatusCreated Status = iota
	StatusInited
	StatusRunning
	StatusPaused
	StatusFinished
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusInited:
		return "INITED"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusFinished:
		return "FINISHED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusFailed
}

// Node is one step of a graph. Check gates whether Process runs this turn;
// Process returns the name of the next node, or EndNodeName to finish.
type Node interface {
	Name() string
	Reentrant() bool
	Check(session *Session) bool
	Process(session *Session) (next string, err error)
}

// Session is the per-operation state of a running state machine: current
// node, progress map, and the control-delivery slot. It is embedded in
// Operation for durable storage (spec.md §3).
type Session struct {
	ID             string         `json:"id"`
	Params         map[string]any `json:"params"`
	CurrentNode    string         `json:"current_node"`
	NodesProcess   map[string]bool `json:"nodes_process"`
	Status         Status         `json:"status"`
	ControlMessage *ControlPayload `json:"control_message,omitempty"`
	LastControlID  string         `json:"last_control_id"`
	HandleList     []any          `json:"handle_list"`

	// NeedsFlush lets a node force a checkpoint on a turn where
	// CurrentNode did not change (ark/are/context.py's FlushFlag mixin).
	// PersistedStateMachine.Start clears it after checkpointing.
	NeedsFlush bool `json:"-"`
}

// ControlPayload is the control data delivered to a running node exactly
// once per distinct ControlID.
type ControlPayload struct {
	ControlID string         `json:"control_id"`
	Payload   map[string]any `json:"payload"`
}

// NewSession constructs a fresh Session for operationID/params, status
// CREATED.
func NewSession(operationID string, params map[string]any) *Session {
	return &Session{
		ID:           operationID,
		Params:       params,
		NodesProcess: make(map[string]bool),
		Status:       StatusCreated,
	}
}

// BaseGraph is the shared lifecycle machinery for StateMachine and
// DependencyFlow: node registry, status transitions, and the owner-only
// pause/resume/cancel guards from spec.md §4.8.
type BaseGraph struct {
	mu      sync.Mutex
	nodes   map[string]Node
	order   []string // registration order, for DependencyFlow's index walk
	status  Status
	session *Session
}

// NewBaseGraph constructs an empty graph in CREATED status with no session;
// Prepare attaches the session.
func NewBaseGraph() *BaseGraph {
	return &BaseGraph{nodes: make(map[string]Node), status: StatusCreated}
}

// AddNode registers a node. Fails with KindInvalidOperation if a node with
// the same name already exists (ark/are/graph.py's ENodeExist).
func (g *BaseGraph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[n.Name()]; exists {
		return newErr(KindInvalidOperation, "BaseGraph.AddNode", fmt.Errorf("node %q already registered", n.Name()))
	}
	g.nodes[n.Name()] = n
	g.order = append(g.order, n.Name())
	return nil
}

// GetNode returns the node named name, or nil.
func (g *BaseGraph) GetNode(name string) Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[name]
}

// Prepare moves CREATED -> INITED, attaching session and seeding
// CurrentNode to the first registered node if unset.
func (g *BaseGraph) Prepare(session *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusCreated {
		return newErr(KindStatusMismatch, "BaseGraph.Prepare", fmt.Errorf("prepare requires CREATED, have %s", g.status))
	}
	g.session = session
	if g.session.CurrentNode == "" && len(g.order) > 0 {
		g.session.CurrentNode = g.order[0]
	}
	g.status = StatusInited
	return nil
}

// Status returns the current lifecycle status.
func (g *BaseGraph) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Pause requires RUNNING.
func (g *BaseGraph) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusRunning {
		return newErr(KindStatusMismatch, "BaseGraph.Pause", fmt.Errorf("pause requires RUNNING, have %s", g.status))
	}
	g.status = StatusPaused
	return nil
}

// Resume requires PAUSED.
func (g *BaseGraph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusPaused {
		return newErr(KindStatusMismatch, "BaseGraph.Resume", fmt.Errorf("resume requires PAUSED, have %s", g.status))
	}
	g.status = StatusRunning
	return nil
}

// Cancel is legal from any non-terminal status; it takes effect at the next
// loop boundary (spec.md §5) rather than interrupting an in-flight Process.
func (g *BaseGraph) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status.terminal() {
		return newErr(KindStatusMismatch, "BaseGraph.Cancel", fmt.Errorf("cancel on terminal status %s", g.status))
	}
	g.status = StatusCancelled
	return nil
}

// StateMachine implements the strict single-successor graph variant of
// spec.md §4.8: fetch current node, enforce reentrance, check, process.
type StateMachine struct {
	*BaseGraph
}

// NewStateMachine constructs an empty StateMachine.
func NewStateMachine() *StateMachine {
	return &StateMachine{BaseGraph: NewBaseGraph()}
}

// RunNext executes exactly one step. It is the Go analogue of
// ark/are/graph.py's StateMachine.run_next.
func (m *StateMachine) RunNext() error {
	m.mu.Lock()
	session := m.session
	current := session.CurrentNode
	node, ok := m.nodes[current]
	m.mu.Unlock()

	if !ok {
		m.mu.Lock()
		m.status = StatusFailed
		m.mu.Unlock()
		return newErr(KindUnknownNode, "StateMachine.RunNext", fmt.Errorf("node %q not registered", current))
	}

	if !node.Reentrant() && session.NodesProcess[current] {
		m.mu.Lock()
		m.status = StatusFailed
		m.mu.Unlock()
		return newErr(KindCheckFailed, "StateMachine.RunNext", fmt.Errorf("node %q already executed and is not reentrant", current))
	}

	if !node.Check(session) {
		m.mu.Lock()
		m.status = StatusFailed
		m.mu.Unlock()
		return newErr(KindCheckFailed, "StateMachine.RunNext", fmt.Errorf("node %q check failed", current))
	}

	session.NodesProcess[current] = true
	next, err := node.Process(session)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if next == EndNodeName {
		session.CurrentNode = ""
		m.status = StatusFinished
		return nil
	}
	if _, exists := m.nodes[next]; !exists {
		m.status = StatusFailed
		return newErr(KindUnknownNode, "StateMachine.RunNext", fmt.Errorf("node %q returned unknown next node %q", current, next))
	}
	session.CurrentNode = next
	return nil
}

// DependencyFlow implements spec.md §4.8's suggestion-biased variant: scan
// from the current node's index, wrapping around, for the first node that
// is reentrant or not-yet-executed.
type DependencyFlow struct {
	*BaseGraph
}

// NewDependencyFlow constructs an empty DependencyFlow.
func NewDependencyFlow() *DependencyFlow {
	return &DependencyFlow{BaseGraph: NewBaseGraph()}
}

// RunNext executes exactly one step, per ark/are/graph.py's
// DependencyFlow.run_next, including its documented tie-break: on an
// unknown next-node name, advance to (index+1) mod N, but only while the
// graph remains RUNNING (Open Question resolution, SPEC_FULL §9).
func (f *DependencyFlow) RunNext() error {
	f.mu.Lock()
	session := f.session
	n := len(f.order)
	if n == 0 {
		f.mu.Unlock()
		return newErr(KindUnknownNode, "DependencyFlow.RunNext", fmt.Errorf("graph has no nodes"))
	}
	startIdx := 0
	for i, name := range f.order {
		if name == session.CurrentNode {
			startIdx = i
			break
		}
	}
	f.mu.Unlock()

	for offset := 0; offset < n; offset++ {
		idx := (startIdx + offset) % n
		f.mu.Lock()
		name := f.order[idx]
		node := f.nodes[name]
		f.mu.Unlock()

		if !node.Reentrant() && session.NodesProcess[name] {
			continue
		}
		if !node.Check(session) {
			continue
		}

		session.NodesProcess[name] = true
		next, err := node.Process(session)
		if err != nil {
			f.mu.Lock()
			f.status = StatusFailed
			f.mu.Unlock()
			return err
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if next == EndNodeName {
			session.CurrentNode = ""
			f.status = StatusFinished
			return nil
		}
		if _, exists := f.nodes[next]; exists {
			session.CurrentNode = next
			return nil
		}
		// Tie-break: unknown suggestion, advance the starting index for
		// the *next* call, but only while still RUNNING.
		if f.status == StatusRunning {
			session.CurrentNode = f.order[(idx+1)%n]
		}
		return nil
	}
	return newErr(KindCheckFailed, "DependencyFlow.RunNext", fmt.Errorf("no runnable node found from index %d", startIdx))
}

// Run drives the graph from INITED through RUNNING to a terminal status,
// invoking runNext once per loop iteration. This is the unadorned graph
// loop; PersistedStateMachine (persisted_graph.go) wraps an equivalent loop
// with checkpointing instead of calling this directly.
func (g *BaseGraph) Run(runNext func() error) error {
	g.mu.Lock()
	if g.status == StatusInited {
		g.status = StatusRunning
	}
	g.mu.Unlock()

	for g.Status() == StatusRunning {
		if err := runNext(); err != nil {
			return err
		}
	}
	return nil
}
