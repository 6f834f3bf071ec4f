package are

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ark-go/guardian/coordstore"
)

// HACoordinator runs the ephemeral-sequenced election protocol of spec.md
// §4.2, grounded on ark/are/ha.py's HAMaster: each replica creates an
// ephemeral-sequenced child under "<root>/alive_clients/<instance>#", and
// on any change to that child set, every replica recomputes the leader as
// the one whose entry sorts lexicographically first.
type HACoordinator struct {
	store      coordstore.Store
	basePath   string
	instanceID string
	log        *zap.Logger
	metric     *Metrics

	onGain func(ctx context.Context)
	onLose func(ctx context.Context)

	mu        sync.Mutex
	isLeader  bool
	myNode    string
	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
}

// NewHACoordinator constructs a coordinator for one replica. onGain and
// onLose are the two idempotent callbacks spec.md §4.2 names; both may be
// called more than once and must tolerate that.
//
// The election loop's own store calls (watchAndElect's Children, elect's
// repeated re-list) run through a coordstore.BreakerStore: spec.md §5 wants
// callers using short timeouts and backing off out-of-band rather than
// hanging on a partitioned store. When a listing fails (including while the
// breaker is open), elect logs the error and the replica keeps its current
// role; it does not step down.
func NewHACoordinator(store coordstore.Store, basePath, instanceID string, log *zap.Logger, metric *Metrics, onGain, onLose func(ctx context.Context)) *HACoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &HACoordinator{
		store:      coordstore.NewBreakerStore(store, "ha-"+instanceID),
		basePath:   basePath,
		instanceID: instanceID,
		log:        log,
		metric:     metric,
		onGain:     onGain,
		onLose:     onLose,
		stopCh:     make(chan struct{}),
	}
}

func (h *HACoordinator) aliveClientsPath() string { return path.Join(h.basePath, "alive_clients") }

// Start initializes the guardian's persistent namespace, creates this
// replica's ephemeral-sequenced node, subscribes to session-state events,
// and runs the first election. It blocks until ctx is cancelled or Stop is
// called.
func (h *HACoordinator) Start(ctx context.Context) error {
	if err := h.initEnvironment(ctx); err != nil {
		return err
	}
	h.store.AddSessionListener(func(s coordstore.SessionState) { h.onSessionState(ctx, s) })

	if err := h.createInstanceNode(ctx); err != nil {
		return err
	}
	if err := h.watchAndElect(ctx); err != nil {
		return err
	}

	<-h.stopCh
	return nil
}

// Stop signals Start to return and, if this replica currently leads,
// invokes onLose once more so the caller observes a clean handoff.
func (h *HACoordinator) Stop() {
	h.mu.Lock()
	wasLeader := h.isLeader
	h.isLeader = false
	h.mu.Unlock()
	if wasLeader && h.onLose != nil {
		h.onLose(context.Background())
	}
	close(h.stopCh)
}

// IsLeader reports whether this replica currently believes it holds
// leadership.
func (h *HACoordinator) IsLeader() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isLeader
}

// initEnvironment bootstraps the guardian's persistent base paths, per
// ark/are/ha.py's init_environment.
func (h *HACoordinator) initEnvironment(ctx context.Context) error {
	for _, p := range []string{h.basePath, h.aliveClientsPath(), path.Join(h.basePath, "operations")} {
		exists, err := h.store.Exists(ctx, p)
		if err != nil {
			return newErr(KindStoreIO, "HACoordinator.initEnvironment", err)
		}
		if exists {
			continue
		}
		if _, err := h.store.Create(ctx, p, nil, false, false, true); err != nil && err != coordstore.ErrNodeExists {
			return newErr(KindStoreIO, "HACoordinator.initEnvironment", err)
		}
	}
	return nil
}

func (h *HACoordinator) createInstanceNode(ctx context.Context) error {
	prefix := path.Join(h.aliveClientsPath(), h.instanceID+"#")
	actual, err := h.store.Create(ctx, prefix, []byte(h.instanceID), true, true, true)
	if err != nil {
		return newErr(KindStoreIO, "HACoordinator.createInstanceNode", err)
	}
	h.mu.Lock()
	h.myNode = path.Base(actual)
	h.mu.Unlock()
	return nil
}

// watchAndElect lists alive_clients, arms a watch for the next change, and
// recomputes leadership. It re-arms itself from the watch callback, so one
// call keeps the election live for the coordinator's lifetime.
func (h *HACoordinator) watchAndElect(ctx context.Context) error {
	var watchFn coordstore.Watcher
	watchFn = func(ev coordstore.Event) {
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.elect(ctx)
		if _, _, err := h.store.Children(ctx, h.aliveClientsPath(), watchFn, false); err != nil {
			h.log.Warn("ha: failed to re-arm election watch", zap.Error(err))
		}
	}
	h.elect(ctx)
	_, _, err := h.store.Children(ctx, h.aliveClientsPath(), watchFn, false)
	if err != nil {
		return newErr(KindStoreIO, "HACoordinator.watchAndElect", err)
	}
	return nil
}

// elect implements ark/are/ha.py's choose_master: the lexicographically
// smallest "<instance>#<seq>" entry wins.
func (h *HACoordinator) elect(ctx context.Context) {
	if h.metric != nil {
		h.metric.ElectionsTotal.Inc()
	}
	children, _, err := h.store.Children(ctx, h.aliveClientsPath(), nil, false)
	if err != nil {
		h.log.Warn("ha: failed to list alive_clients", zap.Error(err))
		return
	}
	if len(children) == 0 {
		return
	}
	sort.Strings(children)
	winner := children[0]
	h.log.Debug("ha: election evaluated", zap.String("winner_instance_id", instancePrefix(winner)), zap.Int("candidates", len(children)))

	h.mu.Lock()
	wasLeader := h.isLeader
	nowLeader := winner == h.myNode
	h.isLeader = nowLeader
	h.mu.Unlock()

	switch {
	case nowLeader && !wasLeader:
		h.log.Info("ha: gained leadership", zap.String("instance_id", h.instanceID))
		if h.onGain != nil {
			h.onGain(ctx)
		}
	case !nowLeader && wasLeader:
		h.log.Info("ha: lost leadership", zap.String("instance_id", h.instanceID))
		if h.onLose != nil {
			h.onLose(ctx)
		}
	}
}

// onSessionState implements ark/are/ha.py's state_listener: LOST triggers a
// recreate-and-resubscribe retry loop; SUSPENDED keeps the current role
// without performing writes; CONNECTED re-evaluates leadership.
func (h *HACoordinator) onSessionState(ctx context.Context, s coordstore.SessionState) {
	switch s {
	case coordstore.StateLost:
		h.mu.Lock()
		h.isLeader = false
		h.mu.Unlock()
		h.log.Warn("ha: session lost, retrying election setup", zap.String("instance_id", h.instanceID))
		go h.recoverFromLoss(ctx)
	case coordstore.StateSuspended:
		h.log.Warn("ha: session suspended, holding role without writes", zap.String("instance_id", h.instanceID))
	case coordstore.StateConnected:
		h.elect(ctx)
	}
}

// recoverFromLoss retries createInstanceNode+watchAndElect at fixed
// intervals until both succeed, mirroring ark/are/ha.py's
// `while True: ... time.sleep(1)` retry loop.
func (h *HACoordinator) recoverFromLoss(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if err := h.createInstanceNode(ctx); err != nil {
				h.log.Warn("ha: recreate instance node failed, retrying", zap.Error(err))
				continue
			}
			if err := h.watchAndElect(ctx); err != nil {
				h.log.Warn("ha: resubscribe failed, retrying", zap.Error(err))
				continue
			}
			return
		}
	}
}

// instancePrefix extracts the instance id from an alive_clients child name
// ("<instance_id>#0000000001"), used by elect's diagnostic log.
func instancePrefix(child string) string {
	if i := strings.LastIndex(child, "#"); i >= 0 {
		return child[:i]
	}
	return child
}
