package coordstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

// failingStore wraps a Store and always fails Get/Children, to drive the
// breaker's ReadyToTrip threshold without a real network partition.
type failingStore struct {
	Store
}

var errFakeStoreFault = errors.New("fake store fault")

func (f *failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errFakeStoreFault
}

func (f *failingStore) Children(context.Context, string, Watcher, bool) ([]string, [][]byte, error) {
	return nil, nil, errFakeStoreFault
}

func TestBreakerStorePassesThroughOnSuccess(t *testing.T) {
	inner := NewMemoryStore()
	if _, err := inner.Create(context.Background(), "/g1", []byte("root"), false, false, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := NewBreakerStore(inner, "test")

	data, err := b.Get(context.Background(), "/g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "root" {
		t.Fatalf("expected root, got %q", data)
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker after a success, got %v", b.State())
	}
}

func TestBreakerStoreTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakerStore(&failingStore{Store: NewMemoryStore()}, "test")

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = b.Get(context.Background(), "/whatever")
	}
	if lastErr == nil {
		t.Fatalf("expected the final call to fail")
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker to trip open after consecutive failures, got %v", b.State())
	}
}

func TestBreakerStoreDelegatesUnwrappedMethods(t *testing.T) {
	inner := NewMemoryStore()
	b := NewBreakerStore(inner, "test")

	if _, err := b.Create(context.Background(), "/g1", []byte("x"), false, false, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	exists, err := b.Exists(context.Background(), "/g1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected /g1 to exist via delegated Create")
	}
}
