package are

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a user-supplied occurrence a sensor converts into a SENSED
// message. OperationID is optional; if empty, a fresh id is generated
// (spec.md §4.5).
type Event struct {
	OperationID string
	Params      map[string]any
}

// eventID returns ev.OperationID, or a freshly generated one if absent.
func eventID(ev Event) string {
	if ev.OperationID != "" {
		return ev.OperationID
	}
	return uuid.NewString()
}

// CallbackSensor exposes OnEvent, callable from outside the pump goroutine,
// and drains one queued event per IDLE message on the pump goroutine.
// Grounded on ark/are/sensor.py's CallbackSensor. The queue is bounded;
// OnEvent blocks the producer on overflow, per spec.md §4.5's "block the
// producer" policy.
type CallbackSensor struct {
	BaseListener
	queue chan Event
}

// NewCallbackSensor constructs a sensor with the given queue capacity.
func NewCallbackSensor(queueDepth int) *CallbackSensor {
	return &CallbackSensor{
		BaseListener: BaseListener{Concerns: []Tag{TagIdle}},
		queue:        make(chan Event, queueDepth),
	}
}

// OnEvent enqueues ev, blocking if the queue is full. Safe to call from any
// goroutine.
func (s *CallbackSensor) OnEvent(ev Event) { s.queue <- ev }

// Dispatch drains at most one event per IDLE message, emitting it as a
// SENSED message via next.
func (s *CallbackSensor) Dispatch(next func(Message) error, m Message) error {
	if m.Tag() != TagIdle {
		return nil
	}
	if !s.Active() {
		return nil
	}
	select {
	case ev := <-s.queue:
		return next(NewSensed(eventID(ev), ev.Params))
	default:
		return nil
	}
}

// Deactivate drains any residual events from the previous leadership
// tenure, per spec.md §4.5.
func (s *CallbackSensor) Deactivate() {
	s.BaseListener.Deactivate()
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// FetchFunc is a user-supplied poll: return an Event and true if one is
// available, or the zero Event and false otherwise.
type FetchFunc func(ctx context.Context) (Event, bool)

// PullSensor extends CallbackSensor with a background goroutine invoking
// Fetch every Interval and feeding results into the callback queue.
// Grounded on ark/are/sensor.py's PullCallbackSensor (originally a daemon
// thread; here a goroutine, per DESIGN NOTES §9).
type PullSensor struct {
	*CallbackSensor
	Fetch    FetchFunc
	Interval time.Duration

	cancel context.CancelFunc
}

// NewPullSensor constructs a pull sensor polling fetch every interval
// (default 3s, matching ark/are/sensor.py's query_interval, if interval<=0).
func NewPullSensor(queueDepth int, fetch FetchFunc, interval time.Duration) *PullSensor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &PullSensor{CallbackSensor: NewCallbackSensor(queueDepth), Fetch: fetch, Interval: interval}
}

// Activate starts the poll loop.
func (p *PullSensor) Activate() {
	p.CallbackSensor.Activate()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Deactivate stops the poll loop and drains the queue.
func (p *PullSensor) Deactivate() {
	if p.cancel != nil {
		p.cancel()
	}
	p.CallbackSensor.Deactivate()
}

func (p *PullSensor) loop(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ev, ok := p.Fetch(ctx); ok {
				p.OnEvent(ev)
			}
		}
	}
}

// PushSensor is a marker variant for event sources that deliver
// asynchronously (e.g. a webhook handler calling OnEvent directly); it has
// no worker goroutine. Grounded on ark/are/sensor.py's PushCallbackSensor.
type PushSensor struct {
	*CallbackSensor
}

// NewPushSensor constructs a push sensor.
func NewPushSensor(queueDepth int) *PushSensor {
	return &PushSensor{CallbackSensor: NewCallbackSensor(queueDepth)}
}
