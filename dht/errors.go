package dht

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for the conditions the engine classifies internally.
// TransportFailure and QueryTimeout are handled locally within a lookup
// and never escape a public operation; they are exported so Contact and
// transport-facing code share one vocabulary.
var (
	// ErrTransportFailure indicates send_rpc returned null: the far peer
	// is unreachable. Handled by marking the contact Disconnected and
	// removing it from the routing table.
	ErrTransportFailure = errors.New("dht: transport failure")

	// ErrTargetDisconnect indicates the far peer explicitly reported
	// shutdown during an RPC. Handled like ErrTransportFailure but also
	// triggers an eager transport close.
	ErrTargetDisconnect = errors.New("dht: target disconnected")

	// ErrQueryTimeout indicates a lookup's per-RPC timeout elapsed before
	// a response arrived. Internal to lookup bookkeeping; classifies the
	// candidate TimedOut and lets the lookup continue.
	ErrQueryTimeout = errors.New("dht: query timeout")

	// ErrValueNotFound is returned by LocateValue when no Value result
	// was produced by the lookup.
	ErrValueNotFound = errors.New("dht: value not found")

	// ErrSelfContact is returned when an operation would insert or
	// address a peer's own contact.
	ErrSelfContact = errors.New("dht: operation targets self")
)

// InvariantError reports a broken core invariant. The key algebra passes
// its violations (mismatched key lengths, a bucket index asked for self)
// to abortOnInvariant, which logs and aborts the process. Config.Validate
// and Dispatcher.HandlePing (sender/key mismatch) return an InvariantError
// to their caller instead of aborting. Inserting self into the routing
// table is reported as ErrSelfContact, not as an InvariantError, and no
// check for a duplicate key inside one bucket produces one.
type InvariantError struct {
	Component string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("dht: invariant violated in %s: %s", e.Component, e.Detail)
}

func newInvariantError(component, detail string) *InvariantError {
	return &InvariantError{Component: component, Detail: detail}
}

// abortOnInvariant logs an InvariantError with full context and aborts
// the process. Only invariant violations reach this function; ordinary
// network failures are never fatal.
func abortOnInvariant(err *InvariantError) {
	logrus.WithFields(logrus.Fields{
		"component": err.Component,
		"detail":    err.Detail,
	}).Fatal("dht: core invariant violated, aborting")
}
