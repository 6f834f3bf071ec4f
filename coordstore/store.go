// Package coordstore defines the coordination-store contract the runtime
// depends on: a hierarchical KV with ephemeral and sequenced nodes, watches,
// and session-state notifications. It is the Go analogue of the persistence
// abstraction this framework is adapted from (ark/are/persistence.py), kept
// deliberately narrow so any of ZooKeeper, etcd, Redis, or a local file can
// back it.
package coordstore

import (
	"context"
	"errors"
)

// Sentinel errors callers match with errors.Is. They mirror the kind-tagged
// taxonomy in package are (KindStoreNoNode, KindStoreIO, ...); the drivers in
// this package return these sentinels (or wrapped driver errors) directly,
// and package are maps them onto its kinds at its own call sites.
var (
	// ErrNoNode is returned by Get/Children/Delete/Put when path does not exist.
	ErrNoNode = errors.New("coordstore: no such node")

	// ErrNodeExists is returned by Create when path already exists and no
	// sequence suffix was requested.
	ErrNodeExists = errors.New("coordstore: node exists")
)

// SessionState mirrors the Python PersistState enum: the store's connection
// health as observed by this client.
type SessionState int

const (
	StateConnected SessionState = iota
	StateSuspended
	StateLost
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// EventType mirrors the Python PersistenceEvent type enum: what changed at
// the watched path.
type EventType int

const (
	EventNone EventType = iota
	EventCreated
	EventDeleted
	EventChanged
	EventChild
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "CREATED"
	case EventDeleted:
		return "DELETED"
	case EventChanged:
		return "CHANGED"
	case EventChild:
		return "CHILD"
	default:
		return "NONE"
	}
}

// Event is delivered to a Watcher at most once per armed watch.
type Event struct {
	Type  EventType
	State SessionState
	Path  string
}

// Watcher is armed by passing a non-nil watch to Children and fires at most
// once.
type Watcher func(Event)

// SessionListener is invoked on every session-state transition observed by
// the driver (CONNECTED/SUSPENDED/LOST), for as long as the store is open.
type SessionListener func(SessionState)

// Store is the coordination-store contract every driver in this package
// (and any external one) implements. Paths are slash-delimited strings,
// always absolute ("/guardian-id/context").
type Store interface {
	// Get returns the data blob at path, or ErrNoNode if absent.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put overwrites the data blob at an existing path. Returns ErrNoNode
	// if path does not exist.
	Put(ctx context.Context, path string, data []byte) error

	// Create makes a new node at path (or path+sequence-suffix, see below)
	// holding data. If ephemeral is true, the node is removed automatically
	// when this client's session ends (natively, or via TTL emulation —
	// see the individual drivers). If sequence is true, a zero-padded
	// monotonically increasing integer is appended to path, unique among
	// siblings sharing that prefix, and the actual created path is
	// returned. If makepath is true, missing intermediate path segments are
	// created non-ephemerally. Returns ErrNodeExists if path already exists
	// and sequence is false.
	Create(ctx context.Context, path string, data []byte, ephemeral, sequence, makepath bool) (actualPath string, err error)

	// Delete removes path and, if recursive, its whole subtree. Returns
	// ErrNoNode if path does not exist.
	Delete(ctx context.Context, path string, recursive bool) error

	// Exists reports whether path currently exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Children lists the immediate children of path (bare names, not full
	// paths). If watch is non-nil it fires at most once. MemoryStore fires
	// it on the next child-set, data, or existence change at path; the
	// polling drivers (RedisStore, SQLiteStore) fire it only on a child-set
	// change and stop polling, without firing, after 4× their session
	// timeout. If withData is true,
	// each child's data blob is also returned (data[i] corresponds to
	// children[i]); otherwise data is nil.
	Children(ctx context.Context, path string, watch Watcher, withData bool) (children []string, data [][]byte, err error)

	// AddSessionListener registers l to be invoked on every subsequent
	// session-state transition. Listeners are never removed individually;
	// they live for the lifetime of the Store.
	AddSessionListener(l SessionListener)

	// Disconnect closes the session; all of this client's ephemeral nodes
	// are removed (natively or, for TTL drivers, once their TTL lapses).
	Disconnect(ctx context.Context) error
}
