package are

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// idleSleep is the pump's brief sleep when the backlog stays empty after an
// idle dispatch, per spec.md §4.4 ("sleep for a short interval (≈100 µs)").
const idleSleep = 100 * time.Microsecond

// Pump is the sense/decide/execute event loop: it holds the message
// backlog and dispatches each head message to every concerned listener, in
// registration order, on a single goroutine. Grounded on spec.md §4.4.
type Pump struct {
	log    *zap.Logger
	ctx    *Context
	metric *Metrics

	listeners []Listener
	decision  DecisionMaker
	executor  Listener
	lifecycle Listener

	backlog []Message

	// ShortCircuit rewrites SENSED messages to DECIDED in place, bypassing
	// the decision maker, for purely reactive guardians (spec.md §4.4, S6).
	ShortCircuit bool

	stopCh chan struct{}
}

// NewPump constructs a Pump persisting through ctxt after each non-idle
// dispatch. It auto-registers the operation-lifecycle listener
// (NewLifecycleListener) so period/completion/action tracking always runs
// without callers wiring it by hand. Callers must call AddListener for at
// least one sensor, exactly one decision maker, and exactly one executor
// before Validate/Run.
func NewPump(ctxt *Context, log *zap.Logger, metric *Metrics) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pump{log: log, ctx: ctxt, metric: metric, stopCh: make(chan struct{})}
	p.lifecycle = NewLifecycleListener(func() *Context { return p.ctx }, log)
	p.AddListener(p.lifecycle)
	return p
}

// AddListener registers l. Passing a DecisionMaker additionally records it
// as THE decision maker for Validate's cardinality check; pass the executor
// listener itself (any Listener) as the second designated role via
// SetExecutor.
func (p *Pump) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
	if dm, ok := l.(DecisionMaker); ok {
		p.decision = dm
	}
}

// SetExecutor designates l as the pump's sole executor for Validate's
// cardinality check. l must also have been registered via AddListener.
func (p *Pump) SetExecutor(l Listener) { p.executor = l }

// SetContext replaces the Context the pump checkpoints to after each
// non-idle dispatch — used after a leadership gain reloads state from the
// coordination store.
func (p *Pump) SetContext(c *Context) { p.ctx = c }

// Validate enforces spec.md §4.4's listener cardinality: exactly one
// decision maker, exactly one executor, at least one sensor (i.e. at least
// one registered listener that is neither the decision maker, the executor,
// nor the auto-registered lifecycle listener).
func (p *Pump) Validate() error {
	if p.decision == nil {
		return newErr(KindInvalidOperation, "Pump.Validate", fmt.Errorf("no decision maker registered"))
	}
	if p.executor == nil {
		return newErr(KindInvalidOperation, "Pump.Validate", fmt.Errorf("no executor registered"))
	}
	hasSensor := false
	for _, l := range p.listeners {
		if l != Listener(p.decision) && l != p.executor && l != p.lifecycle {
			hasSensor = true
			break
		}
	}
	if !hasSensor {
		return newErr(KindInvalidOperation, "Pump.Validate", fmt.Errorf("no sensor registered"))
	}
	return nil
}

// Enqueue appends m to the backlog tail. Safe to call from the pump's own
// dispatch (e.g. a decision maker producing a DECIDED message).
func (p *Pump) Enqueue(m Message) error {
	p.backlog = append(p.backlog, m)
	return nil
}

// Activate runs Activate on every registered listener (gain-leadership).
func (p *Pump) Activate() {
	for _, l := range p.listeners {
		l.Activate()
	}
}

// Deactivate runs Deactivate on every registered listener (lose-leadership).
func (p *Pump) Deactivate() {
	for _, l := range p.listeners {
		l.Deactivate()
	}
}

// Stop signals Run's loop to exit after its current iteration.
func (p *Pump) Stop() { close(p.stopCh) }

// Run drives the loop described in spec.md §4.4 until Stop is called or ctx
// is cancelled. It is meant to run on its own goroutine.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
		}

		isIdle := len(p.backlog) == 0
		if isIdle {
			p.backlog = append(p.backlog, IdleMessage{})
		}

		head := p.backlog[0]
		if p.ShortCircuit {
			if om, ok := head.(OperationMessage); ok && om.Tag() == TagSensed {
				om.MsgTag = TagDecided
				head = om
				p.backlog[0] = head
			}
		}

		tag := head.Tag()

		spanCtx := ctx
		var span trace.Span
		if carrier, ok := head.(OperationCarrier); ok {
			spanCtx, span = StartOperationSpan(ctx, carrier.OpID(), Stage(tag))
		}

		for _, l := range p.listeners {
			if !l.ConcernsTag(tag) {
				continue
			}
			if err := l.BeforeSend(spanCtx, head); err != nil {
				if IsKind(err, KindInvalidOperation) {
					if span != nil {
						span.End()
					}
					return err
				}
				p.log.Warn("listener before-send failed", zap.Error(err), zap.String("tag", string(tag)))
			}
			if err := l.Dispatch(p.Enqueue, head); err != nil {
				if IsKind(err, KindInvalidOperation) {
					if span != nil {
						span.End()
					}
					return err
				}
				p.log.Warn("listener dispatch failed", zap.Error(err), zap.String("tag", string(tag)))
			}
			l.AfterDispatch(spanCtx, head)
		}
		if span != nil {
			span.End()
		}
		if p.metric != nil {
			p.metric.MessagesTotal.WithLabelValues(string(tag)).Inc()
		}

		p.backlog = p.backlog[1:]

		if !isIdle && !p.ShortCircuit {
			start := time.Now()
			if p.ctx != nil {
				if err := p.ctx.Save(ctx); err != nil && !IsKind(err, KindInvalidOperation) {
					p.log.Error("checkpoint failed", zap.Error(err))
				}
			}
			if p.metric != nil {
				p.metric.CheckpointSeconds.Observe(time.Since(start).Seconds())
			}
		}

		if isIdle && len(p.backlog) == 0 {
			time.Sleep(idleSleep)
		}
	}
}
