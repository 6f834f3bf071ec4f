package are

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkFunc is user-supplied business logic: given an operation id and its
// decided params, produce the params to attach to the resulting COMPLETE
// message. Grounded on ark/are/executor.py's CallbackExecutor, whose
// "`.inner_executor_key`"-addressed callable this corresponds to.
type WorkFunc func(ctx context.Context, operationID string, params map[string]any) (map[string]any, error)

// job is one unit handed to a worker goroutine.
type job struct {
	operationID string
	params      map[string]any
}

// WorkerPool is a fixed set of goroutines draining a buffered job channel,
// replacing the Python multiprocessing.Pool per DESIGN NOTES §9. Results
// are pushed onto a single multi-producer/single-consumer channel the
// pump-side Executor drains non-blockingly on IDLE.
type WorkerPool struct {
	work    chan job
	results chan OperationMessage
	fn      WorkFunc
	log     *zap.Logger
	metric  *Metrics
	wg      sync.WaitGroup
}

// NewWorkerPool starts n workers (1-1000, per spec.md §4.7) running fn.
// queueDepth bounds the job channel; Submit blocks the caller when full.
func NewWorkerPool(n, queueDepth int, fn WorkFunc, log *zap.Logger, metric *Metrics) (*WorkerPool, error) {
	if n < 1 || n > 1000 {
		return nil, newErr(KindInvalidOperation, "NewWorkerPool", fmt.Errorf("process_count must be 1-1000, got %d", n))
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &WorkerPool{
		work:    make(chan job, queueDepth),
		results: make(chan OperationMessage, queueDepth),
		fn:      fn,
		log:     log,
		metric:  metric,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p, nil
}

func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for j := range p.work {
		if p.metric != nil {
			p.metric.InflightWorkers.Inc()
		}
		out, err := p.fn(context.Background(), j.operationID, j.params)
		if p.metric != nil {
			p.metric.InflightWorkers.Dec()
		}
		if err != nil {
			p.log.Error("worker failed", zap.String("operation_id", j.operationID), zap.Error(err))
			out = map[string]any{"error": err.Error()}
		}
		p.results <- NewComplete(j.operationID, out)
	}
}

// Submit enqueues a job, blocking if the queue is full.
func (p *WorkerPool) Submit(operationID string, params map[string]any) {
	if p.metric != nil {
		p.metric.QueueDepth.Inc()
	}
	p.work <- job{operationID: operationID, params: params}
}

// DrainResults forwards every immediately-available completed result to
// sink, non-blockingly (the pump never blocks on a worker, per spec.md §5).
func (p *WorkerPool) DrainResults(sink func(OperationMessage) error) {
	for {
		select {
		case r := <-p.results:
			if p.metric != nil {
				p.metric.QueueDepth.Dec()
			}
			if err := sink(r); err != nil {
				p.log.Warn("failed to forward worker result", zap.Error(err))
			}
		default:
			return
		}
	}
}

// Close stops accepting new jobs and waits for in-flight workers to drain.
func (p *WorkerPool) Close() {
	close(p.work)
	p.wg.Wait()
	close(p.results)
}

// Executor is the callback-style executor (spec.md §4.7): a worker pool
// fed by DECIDED messages, draining COMPLETE results on IDLE.
type Executor struct {
	BaseListener
	pool *WorkerPool
}

// NewExecutor constructs an executor running user work via fn across
// workerCount goroutines.
func NewExecutor(workerCount, queueDepth int, fn WorkFunc, log *zap.Logger, metric *Metrics) (*Executor, error) {
	pool, err := NewWorkerPool(workerCount, queueDepth, fn, log, metric)
	if err != nil {
		return nil, err
	}
	return &Executor{BaseListener: BaseListener{Concerns: []Tag{TagIdle, TagDecided}}, pool: pool}, nil
}

// Dispatch implements Listener: DECIDED enqueues work; IDLE drains results.
func (e *Executor) Dispatch(next func(Message) error, m Message) error {
	switch msg := m.(type) {
	case OperationMessage:
		if msg.Tag() != TagDecided {
			return nil
		}
		e.pool.Submit(msg.OperationID, msg.Params)
		return nil
	case IdleMessage:
		e.pool.DrainResults(next)
		return nil
	}
	return newErr(KindUnknownEvent, "Executor.Dispatch", fmt.Errorf("unexpected message %T", m))
}

// Close releases the underlying worker pool.
func (e *Executor) Close() { e.pool.Close() }

// StateMachineWorkFunc builds and runs a PersistedStateMachine for one
// operation, reporting checkpoints through persist. Grounded on
// ark/are/executor.py's StateMachineExecutor._create_state_machine +
// PersistedStateMachine.start.
type StateMachineWorkFunc func(ctx context.Context, operationID string, params map[string]any, control <-chan ControlPayload, persist func(Reason, *Session, string, string)) error

// StateMachineExecutor runs persisted state machines in the worker pool and
// exposes a concurrency-safe control-message slot keyed by operation id,
// replacing the Python multiprocessing.Manager().dict() (DESIGN NOTES §9).
// Grounded on ark/are/executor.py's StateMachineExecutor.
type StateMachineExecutor struct {
	BaseListener
	work     chan job
	results  chan OperationMessage
	fn       func(ctx context.Context, operationID string, params map[string]any, deliver func(ControlPayload), persist func(Reason, *Session, string, string)) error
	log      *zap.Logger
	metric   *Metrics
	wg       sync.WaitGroup

	controlMu sync.Mutex
	control   map[string]ControlPayload // operation_id -> latest control
}

// NewStateMachineExecutor constructs a state-machine executor. run is
// invoked once per DECIDED operation on a worker goroutine; deliver stores a
// control payload for that operation in the same slot that Dispatch's
// CONTROL handling writes and GetControlMessage reads.
func NewStateMachineExecutor(workerCount, queueDepth int, run func(ctx context.Context, operationID string, params map[string]any, deliver func(ControlPayload), persist func(Reason, *Session, string, string)) error, log *zap.Logger, metric *Metrics) (*StateMachineExecutor, error) {
	if workerCount < 1 || workerCount > 1000 {
		return nil, newErr(KindInvalidOperation, "NewStateMachineExecutor", fmt.Errorf("process_count must be 1-1000, got %d", workerCount))
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &StateMachineExecutor{
		BaseListener: BaseListener{Concerns: []Tag{TagIdle, TagDecided, TagControl}},
		work:         make(chan job, queueDepth),
		results:      make(chan OperationMessage, queueDepth),
		fn:           run,
		log:          log,
		metric:       metric,
		control:      make(map[string]ControlPayload),
	}
	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.loop()
	}
	return e, nil
}

func (e *StateMachineExecutor) loop() {
	defer e.wg.Done()
	for j := range e.work {
		opID := j.operationID
		persist := func(reason Reason, session *Session, finished, next string) {
			e.persist(opID, reason, session, finished, next)
		}
		deliverFn := func(p ControlPayload) {
			e.controlMu.Lock()
			e.control[opID] = p
			e.controlMu.Unlock()
		}
		if err := e.fn(context.Background(), opID, j.params, deliverFn, persist); err != nil {
			e.log.Error("state machine run failed", zap.String("operation_id", opID), zap.Error(err))
		}
		e.results <- NewComplete(opID, nil)
	}
}

// Reason is the checkpoint trigger, per spec.md §4.9's table.
type Reason int

const (
	ReasonControl Reason = iota
	ReasonStarted
	ReasonNodeChanged
)

// persist packages a checkpoint per spec.md §4.9's reason table and pushes
// it to the result queue for the pump to forward as a STATE_COMPLETE or
// PERSIST_SESSION message.
func (e *StateMachineExecutor) persist(operationID string, reason Reason, session *Session, finished, next string) {
	tag := TagStateComplete
	if reason == ReasonControl {
		tag = TagPersistSession
	}
	params := map[string]any{
		"session":  session,
		"finished": finished,
		"current":  next,
	}
	e.results <- OperationMessage{MsgTag: tag, OperationID: operationID, Params: params}
}

// Dispatch implements Listener. DECIDED enqueues a run; IDLE drains
// results; CONTROL stores the payload under the message's own ControlID for
// the next polling point. Dispatch does not generate a control id itself;
// NewControlID is available to whoever builds the ControlMessage.
func (e *StateMachineExecutor) Dispatch(next func(Message) error, m Message) error {
	switch msg := m.(type) {
	case OperationMessage:
		switch msg.Tag() {
		case TagDecided:
			select {
			case e.work <- job{operationID: msg.OperationID, params: msg.Params}:
			default:
				if e.metric != nil {
					e.metric.BackpressureTotal.Inc()
				}
				e.work <- job{operationID: msg.OperationID, params: msg.Params}
			}
			return nil
		}
	case ControlMessage:
		e.controlMu.Lock()
		e.control[msg.OperationID] = ControlPayload{ControlID: msg.ControlID, Payload: msg.Payload}
		e.controlMu.Unlock()
		return nil
	case IdleMessage:
		for {
			select {
			case r := <-e.results:
				if err := next(r); err != nil {
					e.log.Warn("failed to forward state machine result", zap.Error(err))
				}
			default:
				return nil
			}
		}
	}
	return newErr(KindUnknownEvent, "StateMachineExecutor.Dispatch", fmt.Errorf("unexpected message %T", m))
}

// GetControlMessage returns the most recently delivered control payload for
// operationID, if its ControlID differs from lastControlID (the session's
// own bookkeeping field) — implementing spec.md §4.9 step 1's dedup check.
func (e *StateMachineExecutor) GetControlMessage(operationID, lastControlID string) (ControlPayload, bool) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()
	p, ok := e.control[operationID]
	if !ok || p.ControlID == lastControlID {
		return ControlPayload{}, false
	}
	return p, true
}

// NewControlID generates a fresh control id, mirroring
// ark/are/executor.py's on_extend_message uuid.uuid1() call.
func NewControlID() string { return uuid.NewString() }

// Close waits for in-flight worker goroutines to drain.
func (e *StateMachineExecutor) Close() {
	close(e.work)
	e.wg.Wait()
	close(e.results)
}
