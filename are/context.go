package are

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/ark-go/guardian/coordstore"
)

// OperationStatus is an Operation's coarse lifecycle value.
type OperationStatus string

const (
	OperationCreated  OperationStatus = "CREATE"
	OperationFinished OperationStatus = "FINISH"
)

// Stage names the last lifecycle point reached by an operation, used to
// resolve the recovery-replay-vs-idempotence open question (SPEC_FULL §9):
// operations whose LastStage is already StageStateMachine are safe to
// replay via a synthetic DECIDED, because StateMachine reentrance makes
// replay safe; operations stuck at StageDecided under a non-state-machine
// executor are not safe to silently re-fire and are instead surfaced
// through Context.Orphaned for operator reconciliation.
type Stage string

const (
	StageSensed       Stage = "SENSED"
	StageDecided      Stage = "DECIDED"
	StageStateMachine Stage = "STATE_MACHINE"
)

// Period is a coarse phase marker on an Operation's timeline.
type Period struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// ActionStatus is an Action's lifecycle value.
type ActionStatus string

const (
	ActionCreated  ActionStatus = "CREATE"
	ActionFinished ActionStatus = "FINISHED"
)

// Action is a fine-grained state-machine node execution record.
type Action struct {
	Name      string       `json:"name"`
	Status    ActionStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
}

// Operation is the durable lifecycle record of one sensed event.
type Operation struct {
	OperationID string          `json:"operation_id"`
	Status      OperationStatus `json:"status"`
	Params      map[string]any  `json:"params"`
	Periods     []Period        `json:"periods"`
	Actions     []Action        `json:"actions"`
	Session     *Session        `json:"session,omitempty"`
	LastStage   Stage           `json:"last_stage"`
}

// AppendPeriod appends a period entry for name, timestamped now.
func (o *Operation) AppendPeriod(name string, now time.Time) {
	o.Periods = append(o.Periods, Period{Name: name, At: now})
}

// UpsertAction appends a new action or, if the most recent action with this
// name is still CREATE, updates it in place — actions "may be updated in
// place once" per spec.md §3.
func (o *Operation) UpsertAction(name string, status ActionStatus, now time.Time) {
	for i := len(o.Actions) - 1; i >= 0; i-- {
		if o.Actions[i].Name == name && o.Actions[i].Status == ActionCreated {
			o.Actions[i].Status = status
			if status == ActionFinished {
				o.Actions[i].EndedAt = now
			}
			return
		}
	}
	a := Action{Name: name, Status: status, StartedAt: now}
	if status == ActionFinished {
		a.EndedAt = now
	}
	o.Actions = append(o.Actions, a)
}

// Context is the in-memory mirror of durable state: the message backlog,
// per-operation records, a user extension map, and the leader-lock flag.
// Only the replica holding Lock=true may mutate it — spec.md §3/§4.3.
type Context struct {
	mu sync.Mutex

	GuardianID  string                `json:"guardian_id"`
	MessageList []OperationMessage    `json:"message_list"`
	Operations  map[string]*Operation `json:"operations"`
	Extend      map[string]any        `json:"extend"`
	Lock        bool                  `json:"lock"`

	store    coordstore.Store
	basePath string
}

// contextWire is the JSON-serializable snapshot of Context used for
// persistence; it excludes the store handle and mutex, and — mirroring
// ark/are/context.py's save_context, which empties self.operations before
// pickling the context blob and restores it after — never embeds
// Operations, since each operation is persisted to its own path.
type contextWire struct {
	GuardianID  string             `json:"guardian_id"`
	MessageList []OperationMessage `json:"message_list"`
	Extend      map[string]any     `json:"extend"`
	Lock        bool               `json:"lock"`
}

// NewContext constructs an empty Context for guardianID, persisting through
// store at basePath (e.g. "/my-guardian").
func NewContext(guardianID string, store coordstore.Store, basePath string) *Context {
	return &Context{
		GuardianID: guardianID,
		Operations: make(map[string]*Operation),
		Extend:     make(map[string]any),
		store:      store,
		basePath:   basePath,
	}
}

func (c *Context) contextPath() string       { return path.Join(c.basePath, "context") }
func (c *Context) operationsPath() string    { return path.Join(c.basePath, "operations") }
func (c *Context) operationPath(id string) string {
	return path.Join(c.basePath, "operations", id)
}

// LoadContext reads <root>/context and <root>/operations/* and reconstructs
// a Context, per spec.md §4.3 steps 1-3. A missing context node yields a
// fresh Context rather than an error. Per-operation read failures are
// logged (by the caller, via the returned errs slice) and skipped, mirroring
// ark/are/context.py's load_context continuing past individual failures.
func LoadContext(ctx context.Context, guardianID string, store coordstore.Store, basePath string) (*Context, []error) {
	c := NewContext(guardianID, store, basePath)

	data, err := store.Get(ctx, c.contextPath())
	switch {
	case err == nil && len(data) > 0:
		var w contextWire
		if jerr := json.Unmarshal(data, &w); jerr == nil {
			c.MessageList = w.MessageList
			c.Extend = w.Extend
			if c.Extend == nil {
				c.Extend = make(map[string]any)
			}
		}
	case err != nil && err != coordstore.ErrNoNode:
		return c, []error{fmt.Errorf("are: load context: %w", err)}
	}

	var errs []error
	names, _, err := store.Children(ctx, c.operationsPath(), nil, false)
	if err != nil && err != coordstore.ErrNoNode {
		return c, []error{fmt.Errorf("are: list operations: %w", err)}
	}
	for _, name := range names {
		opData, gerr := store.Get(ctx, c.operationPath(name))
		if gerr != nil {
			errs = append(errs, fmt.Errorf("are: load operation %s: %w", name, gerr))
			continue
		}
		var op Operation
		if jerr := json.Unmarshal(opData, &op); jerr != nil {
			errs = append(errs, fmt.Errorf("are: decode operation %s: %w", name, jerr))
			continue
		}
		c.Operations[op.OperationID] = &op
	}
	return c, errs
}

// Save persists the context blob (not operations — those persist
// separately). Returns a KindInvalidOperation error if Lock is false, the
// defensive check from spec.md §4.3 that stops a demoted replica from
// clobbering state.
func (c *Context) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx)
}

func (c *Context) saveLocked(ctx context.Context) error {
	if !c.Lock {
		return newErr(KindInvalidOperation, "Context.Save", fmt.Errorf("replica does not hold the leader lock"))
	}
	w := contextWire{GuardianID: c.GuardianID, MessageList: c.MessageList, Extend: c.Extend, Lock: c.Lock}
	data, err := json.Marshal(w)
	if err != nil {
		return newErr(KindInvalidOperation, "Context.Save", err)
	}
	if putErr := c.store.Put(ctx, c.contextPath(), data); putErr != nil {
		if putErr == coordstore.ErrNoNode {
			if _, cerr := c.store.Create(ctx, c.contextPath(), data, false, false, true); cerr != nil {
				return newErr(KindStoreIO, "Context.Save", cerr)
			}
			return nil
		}
		return newErr(KindStoreIO, "Context.Save", putErr)
	}
	return nil
}

// SaveOperation persists a single operation record, creating it if new.
// Requires Lock, mirroring save_operation's EInvalidOperation guard.
func (c *Context) SaveOperation(ctx context.Context, op *Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Lock {
		return newErr(KindInvalidOperation, "Context.SaveOperation", fmt.Errorf("replica does not hold the leader lock"))
	}
	data, err := json.Marshal(op)
	if err != nil {
		return newErr(KindInvalidOperation, "Context.SaveOperation", err)
	}
	p := c.operationPath(op.OperationID)
	if putErr := c.store.Put(ctx, p, data); putErr != nil {
		if putErr == coordstore.ErrNoNode {
			if _, cerr := c.store.Create(ctx, p, data, false, false, true); cerr != nil {
				return newErr(KindStoreIO, "Context.SaveOperation", cerr)
			}
			return nil
		}
		return newErr(KindStoreIO, "Context.SaveOperation", putErr)
	}
	return nil
}

// DeleteOperation removes an operation both in memory and durably.
func (c *Context) DeleteOperation(ctx context.Context, operationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Lock {
		return newErr(KindInvalidOperation, "Context.DeleteOperation", fmt.Errorf("replica does not hold the leader lock"))
	}
	delete(c.Operations, operationID)
	if err := c.store.Delete(ctx, c.operationPath(operationID), true); err != nil && err != coordstore.ErrNoNode {
		return newErr(KindStoreIO, "Context.DeleteOperation", err)
	}
	return nil
}

// GetOperation returns the in-memory operation record, or nil.
func (c *Context) GetOperation(operationID string) *Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Operations[operationID]
}

// CreateOperation creates and stores a fresh Operation for operationID with
// the given initial params, returning it.
func (c *Context) CreateOperation(operationID string, params map[string]any) *Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := &Operation{
		OperationID: operationID,
		Status:      OperationCreated,
		Params:      params,
	}
	c.Operations[operationID] = op
	return op
}

// GetExtend reads a value from the user extension map.
func (c *Context) GetExtend(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.Extend[key]
	return v, ok
}

// UpdateExtend sets a value in the user extension map and persists the
// context, mirroring update_extend's call to save_context.
func (c *Context) UpdateExtend(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	c.Extend[key] = value
	c.mu.Unlock()
	return c.Save(ctx)
}

// DelExtend removes a key from the user extension map and persists.
func (c *Context) DelExtend(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.Extend, key)
	c.mu.Unlock()
	return c.Save(ctx)
}

// SetLock sets the leader-lock flag. Called by the HA coordinator on
// gain/lose-leadership; does not itself persist (the caller decides when).
func (c *Context) SetLock(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lock = v
}

// Orphaned returns operations whose LastStage is StageDecided (i.e. a
// worker was mid-execution under a non-state-machine, non-idempotence-safe
// executor when leadership changed) — surfaced for operator-driven
// reconciliation instead of being silently replayed. See the Stage doc
// comment and SPEC_FULL.md §9.
func (c *Context) Orphaned() []*Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Operation
	for _, op := range c.Operations {
		if op.Status != OperationFinished && op.LastStage == StageDecided {
			out = append(out, op)
		}
	}
	return out
}

// ReconcileOnGain implements spec.md §4.3 step 4: for each non-finished
// operation not already represented by a backlog message, inject a
// replay message appropriate to where it last got to:
//
//   - StageStateMachine: a synthetic DECIDED, since the state machine's own
//     reentrance semantics make replaying the decide step safe.
//   - StageSensed: a synthetic SENSED. Nothing has run yet — no decision,
//     no side effect — so re-running the sense-to-decide step from scratch
//     is trivially safe, unlike StageDecided below.
//   - StageDecided: left alone. A worker may already be mid-execution under
//     a non-state-machine, non-idempotence-safe executor; silently
//     re-firing it could duplicate that work, so these are left for
//     Orphaned's operator-driven reconciliation instead.
func (c *Context) ReconcileOnGain() []OperationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	inBacklog := make(map[string]bool, len(c.MessageList))
	for _, m := range c.MessageList {
		inBacklog[m.OperationID] = true
	}

	var injected []OperationMessage
	for id, op := range c.Operations {
		if op.Status == OperationFinished || inBacklog[id] {
			continue
		}
		switch op.LastStage {
		case StageStateMachine:
			injected = append(injected, NewDecided(id, op.Params))
		case StageSensed:
			injected = append(injected, NewSensed(id, op.Params))
		}
	}
	return injected
}
