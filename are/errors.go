// Package are implements the automated remediation engine: the message-pump
// runtime, the durable operation context, the decision/executor listeners,
// and the resumable graph engine that together drive guardian workflows.
package are

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by the taxonomy in the framework's error design:
// errors are grouped by what kind of contract was violated, not by the Go
// type that carries them.
type Kind string

const (
	// KindNotImplemented marks an abstract-method call. Always a programmer
	// error; fatal for the listener that raised it.
	KindNotImplemented Kind = "NOT_IMPLEMENTED"

	// KindTypeMismatch marks a contract violation between components (e.g. a
	// decision mapping missing a key). Logged and swallowed by the pump's
	// per-listener guard.
	KindTypeMismatch Kind = "TYPE_MISMATCH"

	// KindMissingParam marks a required message parameter that was absent.
	KindMissingParam Kind = "MISSING_PARAM"

	// KindInvalidOperation marks an illegal lifecycle transition, such as a
	// write attempted by a non-leader replica. Fatal for the offending call.
	KindInvalidOperation Kind = "INVALID_OPERATION"

	// KindStatusMismatch marks a graph lifecycle method called from an
	// illegal status (e.g. pause() outside RUNNING).
	KindStatusMismatch Kind = "STATUS_MISMATCH"

	// KindCheckFailed marks a node's check() returning false, or a
	// non-reentrant node being re-entered after it already ran.
	KindCheckFailed Kind = "CHECK_FAILED"

	// KindUnknownNode marks a node name absent from the graph's node set.
	KindUnknownNode Kind = "UNKNOWN_NODE"

	// KindUnknownEvent marks a message tag a listener does not recognize.
	KindUnknownEvent Kind = "UNKNOWN_EVENT"

	// KindStoreNoNode marks a coordination-store path that does not exist.
	// Callers may recover by treating the path as absent.
	KindStoreNoNode Kind = "STORE_NO_NODE"

	// KindStoreIO marks a coordination-store I/O fault. It is returned to the
	// caller; nothing in this package re-runs election on it (election re-runs
	// only on session-state changes and watch events).
	KindStoreIO Kind = "STORE_IO"

	// KindStoreTimeout marks a coordination-store call that exceeded its
	// deadline.
	KindStoreTimeout Kind = "STORE_TIMEOUT"

	// KindStoreServerError marks a coordination-store server-side fault
	// (e.g. a ZooKeeper or Redis server error distinct from I/O or timeout).
	KindStoreServerError Kind = "STORE_SERVER_ERROR"

	// KindFailedRequest marks an external HTTP call that exhausted its
	// retries. Returned to the decision-maker or executor for user handling.
	KindFailedRequest Kind = "FAILED_REQUEST"
)

// Error is the framework's structured error type. It pairs a taxonomy Kind
// with the operation name that raised it and an optional wrapped cause,
// mirroring the flat exception hierarchy of the engine this package is
// adapted from while staying idiomatic: callers use errors.Is/errors.As
// against the sentinel Is* helpers below instead of catching exception
// class names.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given Kind, regardless of wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// newErr constructs an *Error, the small helper every raising site in this
// package funnels through.
func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the Kind from err, walking the Unwrap chain. The second
// return is false if err (or nothing in its chain) is an *Error.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsKind reports whether err's Kind (after unwrapping) equals kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
