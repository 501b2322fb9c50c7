package dht

import (
	"context"
	"sync"
	"time"
)

// fakeRegistry is the shared directory a fakeNetwork consults to turn a
// Contact into the Dispatcher that owns it, simulating a wire transport
// without sockets or serialization. Tests register every peer's
// dispatcher once, by key, then hand each peer its own fakeNetwork view.
type fakeRegistry struct {
	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
	lag         map[string]time.Duration
	down        map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		dispatchers: make(map[string]*Dispatcher),
		lag:         make(map[string]time.Duration),
		down:        make(map[string]bool),
	}
}

func (r *fakeRegistry) register(key Key, d *Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[string(key)] = d
}

func (r *fakeRegistry) unregister(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dispatchers, string(key))
}

func (r *fakeRegistry) setLag(key Key, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lag[string(key)] = d
}

func (r *fakeRegistry) setDown(key Key, down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down[string(key)] = down
}

func (r *fakeRegistry) lookup(key Key) (*Dispatcher, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down[string(key)] {
		return nil, 0, false
	}
	d, ok := r.dispatchers[string(key)]
	return d, r.lag[string(key)], ok
}

// fakeNetwork implements Network on top of a fakeRegistry: every RPC is a
// direct, in-process call into the target peer's Dispatcher, optionally
// delayed to simulate a laggy far peer. It plays the role a real
// rpc.Adapter over transport.Transport plays in production, without any
// encoding.
type fakeNetwork struct {
	selfKey  Key
	selfName string
	reg      *fakeRegistry
}

func newFakeNetwork(selfKey Key, selfName string, reg *fakeRegistry) *fakeNetwork {
	return &fakeNetwork{selfKey: selfKey, selfName: selfName, reg: reg}
}

func (n *fakeNetwork) sender() *Contact {
	return NewContact(n.selfKey.clone(), n.selfName, nil)
}

func (n *fakeNetwork) wait(ctx context.Context, lag time.Duration) error {
	if lag <= 0 {
		return nil
	}
	timer := time.NewTimer(lag)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *fakeNetwork) Ping(ctx context.Context, contact *Contact) error {
	d, lag, ok := n.reg.lookup(contact.Key)
	if !ok {
		return ErrTransportFailure
	}
	if err := n.wait(ctx, lag); err != nil {
		return err
	}
	_, err := d.HandlePing(n.sender(), n.selfKey)
	return err
}

func (n *fakeNetwork) Store(ctx context.Context, contact *Contact, key Key, value []byte) error {
	d, lag, ok := n.reg.lookup(contact.Key)
	if !ok {
		return ErrTransportFailure
	}
	if err := n.wait(ctx, lag); err != nil {
		return err
	}
	_, err := d.HandleStore(n.sender(), key, value)
	return err
}

func (n *fakeNetwork) FindNodes(ctx context.Context, contact *Contact, target Key) ([]Helper, error) {
	d, lag, ok := n.reg.lookup(contact.Key)
	if !ok {
		return nil, ErrTransportFailure
	}
	if err := n.wait(ctx, lag); err != nil {
		return nil, err
	}
	return d.HandleFindNodes(n.sender(), target)
}

func (n *fakeNetwork) FindValue(ctx context.Context, contact *Contact, target Key) (*FindValueResult, error) {
	d, lag, ok := n.reg.lookup(contact.Key)
	if !ok {
		return nil, ErrTransportFailure
	}
	if err := n.wait(ctx, lag); err != nil {
		return nil, err
	}
	return d.HandleFindValue(n.sender(), target)
}

func (n *fakeNetwork) Connect(ctx context.Context, contact *Contact) error {
	_, _, ok := n.reg.lookup(contact.Key)
	if !ok {
		return ErrTransportFailure
	}
	return nil
}

func (n *fakeNetwork) Disconnect(contact *Contact) error { return nil }

// testKeySize is a small keysize used throughout dht's own tests so
// multi-peer scenarios stay fast: 32 bits is plenty of address space for
// a few dozen simulated peers and keeps FindClosest/sort churn cheap.
const testKeySize = 32

// newHarnessPeer builds a Peer named name on its own fakeNetwork,
// registers its dispatcher in reg, and returns the peer; lag and down
// injection go through reg.
func newHarnessPeer(name string, reg *fakeRegistry, cfg Config) *Peer {
	cfg.KeySize = testKeySize
	self := DeriveKey(name, testKeySize)
	net := newFakeNetwork(self, name, reg)
	peer, err := NewPeer(name, net, cfg)
	if err != nil {
		panic(err)
	}
	reg.register(peer.Self(), peer.Dispatcher())
	return peer
}

func harnessConfig() Config {
	cfg := DefaultConfig()
	cfg.KeySize = testKeySize
	cfg.RefreshInterval = 0
	cfg.QueryTimeout = 2 * time.Second
	return cfg
}
