package dht

import "context"

// Network is the interface the core consumes from transports, per the
// engine's external interface contract. A concrete implementation
// (wired in package rpc, on top of package transport) decodes and
// encodes the four RPC methods over whatever wire format the harness
// chooses; the core never sees bytes, only these typed results.
type Network interface {
	// Ping issues a ping(key) RPC. A nil error is the "pong" response;
	// any error is treated as a transport failure (ErrTransportFailure)
	// or an explicit far-side disconnect (ErrTargetDisconnect).
	Ping(ctx context.Context, contact *Contact) error

	// Store issues a store(key, value) RPC. Same error semantics as
	// Ping.
	Store(ctx context.Context, contact *Contact, key Key, value []byte) error

	// FindNodes issues a find_nodes(key) RPC and returns the contacts
	// the far peer reports closest to target, each paired with the
	// distance the far side computed (the core treats this as
	// authoritative for sorting, though it may re-verify).
	FindNodes(ctx context.Context, contact *Contact, target Key) ([]Helper, error)

	// FindValue issues a find_value(key) RPC. Exactly one of the
	// returned FindValueResult's fields is populated: Value on a hit,
	// Nodes on a miss.
	FindValue(ctx context.Context, contact *Contact, target Key) (*FindValueResult, error)

	// Connect opens a transport suitable for subsequent RPCs against
	// contact. The core calls this lazily, on first need.
	Connect(ctx context.Context, contact *Contact) error

	// Disconnect tears down any transport held open for contact. Must
	// be idempotent.
	Disconnect(contact *Contact) error
}

// FindValueResult is the decoded response to a find_value RPC.
type FindValueResult struct {
	Value []byte
	Nodes []Helper
}
