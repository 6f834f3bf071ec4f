package coordstore

import (
	"context"

	"github.com/sony/gobreaker"
)

// BreakerStore wraps a Store with a circuit breaker around the calls the HA
// coordinator and config registry's remote load depend on (Get/Children),
// per spec.md §5's "callers use short timeouts and back off out-of-band":
// five consecutive errors of any kind (ErrNoNode included) open the breaker,
// and while it is open Get/Children return gobreaker's open-state error at
// once without calling the inner store. The breaker does not change the
// replica's role; the HA coordinator logs such an error and keeps its role.
type BreakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a breaker named for diagnostics.
func NewBreakerStore(inner Store, name string) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerStore{Store: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.Store.Get(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (b *BreakerStore) Children(ctx context.Context, path string, watch Watcher, withData bool) ([]string, [][]byte, error) {
	type result struct {
		names []string
		data  [][]byte
	}
	out, err := b.cb.Execute(func() (any, error) {
		names, data, err := b.Store.Children(ctx, path, watch, withData)
		if err != nil {
			return nil, err
		}
		return result{names: names, data: data}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	r := out.(result)
	return r.names, r.data, nil
}

// State reports the breaker's current state, for diagnostics/tests.
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }
