package are

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// lifecycleBase is the innermost Listener the period/completion/action
// middleware wraps. It concerns every tag an operation's lifecycle touches
// and leaves Dispatch a no-op: all of its work happens in the
// BeforeSend/AfterDispatch hooks the three decorators add around it.
type lifecycleBase struct {
	BaseListener
}

func newLifecycleBase() *lifecycleBase {
	return &lifecycleBase{BaseListener: BaseListener{Concerns: []Tag{
		TagSensed, TagDecided, TagComplete, TagStateComplete, TagPersistSession,
	}}}
}

func (*lifecycleBase) Dispatch(func(Message) error, Message) error { return nil }

// NewLifecycleListener builds the operation-bookkeeping listener a Pump
// registers automatically alongside its sensors/decision-maker/executor:
// the three lifecycle decorators of spec.md §4.3 (new-period,
// complete-operation, new-action), composed in that order around a no-op
// base so each can be read in isolation. ctxFn is called on every hook so
// the listener keeps tracking the pump's current Context across a
// SetContext swap (e.g. after a leadership gain reloads state).
func NewLifecycleListener(ctxFn func() *Context, log *zap.Logger) Listener {
	if log == nil {
		log = zap.NewNop()
	}
	var l Listener = newLifecycleBase()
	l = WithPeriodTracking(l, ctxFn, log)
	l = WithOperationCompletion(l, ctxFn, log)
	l = WithActionTracking(l, ctxFn, log)
	return l
}

// periodTracker is the WithPeriodTracking decorator: on SENSED/DECIDED/
// STATE_COMPLETE/PERSIST_SESSION it creates the operation record if one
// doesn't exist yet, appends a period entry, and advances LastStage — the
// bookkeeping Context.Orphaned/ReconcileOnGain read back on a leadership
// gain. Failures are logged, never escalated: tracking is best-effort and
// must never stall the pump (a non-leader replica's SaveOperation always
// fails with KindInvalidOperation, which is the expected steady state for
// every replica but the leader).
type periodTracker struct {
	Listener
	ctxFn func() *Context
	log   *zap.Logger
}

// WithPeriodTracking composes the new-period decorator around inner.
func WithPeriodTracking(inner Listener, ctxFn func() *Context, log *zap.Logger) Listener {
	return &periodTracker{Listener: inner, ctxFn: ctxFn, log: log}
}

func (t *periodTracker) BeforeSend(ctx context.Context, m Message) error {
	if err := t.Listener.BeforeSend(ctx, m); err != nil {
		return err
	}
	carrier, ok := m.(OperationCarrier)
	if !ok {
		return nil
	}
	name, stage, ok := periodForTag(m.Tag())
	if !ok {
		return nil
	}
	c := t.ctxFn()
	if c == nil {
		return nil
	}

	op := c.GetOperation(carrier.OpID())
	if op == nil {
		var params map[string]any
		if om, ok := m.(OperationMessage); ok {
			params = om.Params
		}
		op = c.CreateOperation(carrier.OpID(), params)
	}
	op.AppendPeriod(name, time.Now())
	op.LastStage = stage

	if err := c.SaveOperation(ctx, op); err != nil && !IsKind(err, KindInvalidOperation) {
		t.log.Warn("lifecycle: period tracking save failed", zap.String("operation_id", carrier.OpID()), zap.Error(err))
	}
	return nil
}

// periodForTag names the period and the Stage an operation advances to
// when a message of tag passes through period tracking.
func periodForTag(tag Tag) (name string, stage Stage, ok bool) {
	switch tag {
	case TagSensed:
		return "sensed", StageSensed, true
	case TagDecided:
		return "decided", StageDecided, true
	case TagStateComplete, TagPersistSession:
		return "state_machine", StageStateMachine, true
	default:
		return "", "", false
	}
}

// completionTracker is the WithOperationCompletion decorator: on COMPLETE
// it marks the operation finished, appends the closing period, and removes
// the durable record — the in-flight invariant of spec.md §8 property 2
// ("exactly one operation record ... until a COMPLETE is dispatched").
type completionTracker struct {
	Listener
	ctxFn func() *Context
	log   *zap.Logger
}

// WithOperationCompletion composes the complete-operation decorator around
// inner.
func WithOperationCompletion(inner Listener, ctxFn func() *Context, log *zap.Logger) Listener {
	return &completionTracker{Listener: inner, ctxFn: ctxFn, log: log}
}

func (t *completionTracker) AfterDispatch(ctx context.Context, m Message) {
	t.Listener.AfterDispatch(ctx, m)
	if m.Tag() != TagComplete {
		return
	}
	carrier, ok := m.(OperationCarrier)
	if !ok {
		return
	}
	c := t.ctxFn()
	if c == nil {
		return
	}
	op := c.GetOperation(carrier.OpID())
	if op == nil {
		return
	}
	op.Status = OperationFinished
	op.AppendPeriod("complete", time.Now())
	if err := c.SaveOperation(ctx, op); err != nil && !IsKind(err, KindInvalidOperation) {
		t.log.Warn("lifecycle: completion save failed", zap.String("operation_id", carrier.OpID()), zap.Error(err))
	}
	if err := c.DeleteOperation(ctx, carrier.OpID()); err != nil && !IsKind(err, KindInvalidOperation) {
		t.log.Warn("lifecycle: completion delete failed", zap.String("operation_id", carrier.OpID()), zap.Error(err))
	}
}

// actionTracker is the WithActionTracking decorator: on STATE_COMPLETE/
// PERSIST_SESSION checkpoints — which carry the "finished"/"current" node
// names persist() attaches (executor.go) — it finishes the previous node's
// action and opens a new one for the node about to run.
type actionTracker struct {
	Listener
	ctxFn func() *Context
	log   *zap.Logger
}

// WithActionTracking composes the new-action decorator around inner.
func WithActionTracking(inner Listener, ctxFn func() *Context, log *zap.Logger) Listener {
	return &actionTracker{Listener: inner, ctxFn: ctxFn, log: log}
}

func (t *actionTracker) AfterDispatch(ctx context.Context, m Message) {
	t.Listener.AfterDispatch(ctx, m)
	if m.Tag() != TagStateComplete && m.Tag() != TagPersistSession {
		return
	}
	om, ok := m.(OperationMessage)
	if !ok {
		return
	}
	c := t.ctxFn()
	if c == nil {
		return
	}
	op := c.GetOperation(om.OperationID)
	if op == nil {
		return
	}
	finished, _ := om.Params["finished"].(string)
	current, _ := om.Params["current"].(string)
	if finished == "" && current == "" {
		return
	}
	now := time.Now()
	if finished != "" {
		op.UpsertAction(finished, ActionFinished, now)
	}
	if current != "" {
		op.UpsertAction(current, ActionCreated, now)
	}
	if err := c.SaveOperation(ctx, op); err != nil && !IsKind(err, KindInvalidOperation) {
		t.log.Warn("lifecycle: action tracking save failed", zap.String("operation_id", om.OperationID), zap.Error(err))
	}
}
