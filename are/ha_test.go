package are

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ark-go/guardian/coordstore"
)

func TestHACoordinatorSingleReplicaGainsLeadership(t *testing.T) {
	store := coordstore.NewMemoryStore()
	var gained, lost int32
	var mu sync.Mutex
	onGain := func(ctx context.Context) { mu.Lock(); gained++; mu.Unlock() }
	onLose := func(ctx context.Context) { mu.Lock(); lost++; mu.Unlock() }

	h := NewHACoordinator(store, "/g1", "instance-a", nil, nil, onGain, onLose)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Start(ctx)
	defer h.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !h.IsLeader() {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.IsLeader() {
		t.Fatalf("expected the sole replica to become leader")
	}
	mu.Lock()
	g := gained
	mu.Unlock()
	if g != 1 {
		t.Fatalf("expected onGain called exactly once, got %d", g)
	}
}

func TestHACoordinatorLexicographicallySmallestWins(t *testing.T) {
	store := coordstore.NewMemoryStore()

	leaderCount := func(cs ...*HACoordinator) int {
		n := 0
		for _, c := range cs {
			if c.IsLeader() {
				n++
			}
		}
		return n
	}

	a := NewHACoordinator(store, "/g1", "aaa", nil, nil, func(context.Context) {}, func(context.Context) {})
	b := NewHACoordinator(store, "/g1", "bbb", nil, nil, func(context.Context) {}, func(context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Start(ctx)
	go b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && leaderCount(a, b) != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if leaderCount(a, b) != 1 {
		t.Fatalf("expected exactly one leader among two replicas")
	}
	if !a.IsLeader() {
		t.Fatalf("expected the lexicographically smaller instance id to win")
	}
}

func TestHACoordinatorStopInvokesOnLoseWhenLeader(t *testing.T) {
	store := coordstore.NewMemoryStore()
	loseCalled := make(chan struct{}, 1)
	onLose := func(ctx context.Context) {
		select {
		case loseCalled <- struct{}{}:
		default:
		}
	}
	h := NewHACoordinator(store, "/g1", "solo", nil, nil, func(context.Context) {}, onLose)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !h.IsLeader() {
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()

	select {
	case <-loseCalled:
	case <-time.After(time.Second):
		t.Fatalf("expected onLose to be invoked on Stop while leading")
	}
}
