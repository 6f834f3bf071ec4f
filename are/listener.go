package are

import "context"

// Listener is the common base every pump participant (sensor, decision
// maker, executor) implements: it declares which message tags it concerns
// itself with, and dispatches messages of those tags.
//
// Dispatch receives next, a callback the listener invokes to hand a
// produced message back to the pump for enqueueing (e.g. a decision maker
// turning SENSED into DECIDED). Listeners that only observe messages
// (never producing new ones) simply never call next.
//
// BeforeSend and AfterDispatch bracket Dispatch for every concerned
// listener, per message, letting cross-cutting concerns — the
// new-period/complete-operation/new-action operation-lifecycle tracking of
// spec.md §4.3 — attach as middleware instead of reaching into Dispatch
// itself. Most listeners have nothing to do here and get the BaseListener
// no-ops.
type Listener interface {
	// ConcernsTag reports whether this listener wants to see messages
	// tagged tag.
	ConcernsTag(tag Tag) bool

	// BeforeSend runs once per concerned listener before Dispatch sees m.
	// A non-nil error is treated the same way a Dispatch error is (fatal
	// for KindInvalidOperation, logged and swallowed otherwise).
	BeforeSend(ctx context.Context, m Message) error

	// Dispatch handles one message. Errors are logged and swallowed by the
	// pump (spec.md §7 propagation policy) except where the listener's own
	// contract says otherwise (e.g. InvalidOperation is fatal).
	Dispatch(next func(Message) error, m Message) error

	// AfterDispatch runs once per concerned listener after Dispatch
	// returns, whether or not it errored.
	AfterDispatch(ctx context.Context, m Message)

	// Activate is called on gain-leadership, before the pump starts
	// delivering messages to this listener.
	Activate()

	// Deactivate is called on lose-leadership; sensors drain their queues
	// here (spec.md §4.5).
	Deactivate()
}

// BaseListener implements the concern-set bookkeeping shared by every
// Listener; embed it and override Dispatch (and Activate/Deactivate,
// BeforeSend/AfterDispatch where needed).
type BaseListener struct {
	Concerns []Tag
	active   bool
}

func (b *BaseListener) ConcernsTag(tag Tag) bool {
	for _, t := range b.Concerns {
		if t == tag {
			return true
		}
	}
	return false
}

func (b *BaseListener) BeforeSend(context.Context, Message) error { return nil }
func (b *BaseListener) AfterDispatch(context.Context, Message)    {}

func (b *BaseListener) Activate()   { b.active = true }
func (b *BaseListener) Deactivate() { b.active = false }

// Active reports whether Activate has run more recently than Deactivate.
func (b *BaseListener) Active() bool { return b.active }
