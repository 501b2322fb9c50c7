package dht

import "sync"

// ConnectionState tracks whether a Contact's transport handle is
// currently believed reachable. The core never blocks on this beyond
// what Network.Connect/Disconnect report.
type ConnectionState int

const (
	// StateUnknown means no RPC has completed against this contact yet.
	StateUnknown ConnectionState = iota
	// StateConnected means the most recent RPC succeeded.
	StateConnected
	// StateDisconnected means the most recent RPC failed or the
	// transport reported an explicit disconnect.
	StateDisconnected
)

// Contact is an opaque handle to a remote peer: {key, name,
// transport-handle, optional sponsor reference, connection-state}. The
// transport-handle (Endpoint) is meaningful only to the Network
// implementation wired in by the harness; the core never inspects it.
//
// A Contact is owned by whichever RoutingTable or pending-handle slot
// holds it. Cloning a Contact for a different owner is allowed and
// yields a distinct object sharing only the far-peer identity (Key,
// Name, Endpoint) — never the mutable connection state.
type Contact struct {
	Key      Key
	Name     string
	Endpoint interface{}

	// Sponsor is a weak reference: the key of the peer through whom this
	// contact was first learned, held as a key rather than an owning
	// pointer. It is recorded and carried across clones only; no code in
	// this module reads it, so it authorizes nothing and exempts nothing
	// from eviction.
	Sponsor Key

	mu    sync.Mutex
	state ConnectionState
}

// NewContact builds a Contact with no sponsor and unknown connection
// state.
func NewContact(key Key, name string, endpoint interface{}) *Contact {
	return &Contact{Key: key, Name: name, Endpoint: endpoint}
}

// Clone returns a new Contact object sharing this contact's far-peer
// identity (Key, Name, Endpoint, Sponsor) but with its own, independent
// connection-state lock — safe to insert into a different owner's
// routing table or pending-handle set.
func (c *Contact) Clone() *Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Contact{
		Key:      c.Key.clone(),
		Name:     c.Name,
		Endpoint: c.Endpoint,
		Sponsor:  c.Sponsor,
		state:    c.state,
	}
}

// WithSponsor sets the sponsor key and returns the same contact, for
// chaining at construction time.
func (c *Contact) WithSponsor(sponsor Key) *Contact {
	c.Sponsor = sponsor
	return c
}

// State returns the contact's last-observed connection state.
func (c *Contact) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState updates the contact's connection state.
func (c *Contact) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
