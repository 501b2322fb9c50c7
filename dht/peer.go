package dht

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Peer is the engine's top-level object: one routing table, one storage
// map, one refresh scheduler, and the public operations (locate_nodes,
// locate_value, store_value, join) that drive iterative lookups against
// them. A Peer exclusively owns its routing table, storage, and timer
// set, per the engine's ownership model.
type Peer struct {
	self Key
	name string
	cfg  Config

	network    Network
	table      *RoutingTable
	storage    *Storage
	stats      *Stats
	sched      *scheduler
	dispatcher *Dispatcher
}

// NewPeer derives self's key from name, wires the routing table, storage,
// scheduler, and dispatcher together, and returns a ready-to-use Peer.
// The caller must still arrange for the transport layer to deliver
// inbound RPCs to the returned Peer's Dispatcher.
func NewPeer(name string, network Network, cfg Config) (*Peer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	self := DeriveKey(name, cfg.KeySize)
	stats := NewStats()
	table := NewRoutingTable(self, cfg.K)
	storage := NewStorage()
	sched := newScheduler(cfg.RefreshInterval, GetDefaultTimeProvider(), stats)

	p := &Peer{
		self:    self,
		name:    name,
		cfg:     cfg,
		network: network,
		table:   table,
		storage: storage,
		stats:   stats,
		sched:   sched,
	}

	table.SetOnAdded(func(c *Contact) { go p.replicateCloserStorage(c) })
	storage.SetOnStore(func(k Key) { p.armStorageRefresh(k) })
	p.dispatcher = NewDispatcher(self, cfg.K, table, storage, stats, func(c *Contact) { go p.addContact(c) })

	return p, nil
}

// Self returns the peer's own key.
func (p *Peer) Self() Key { return p.self }

// Name returns the human-readable name the peer's key was derived from.
func (p *Peer) Name() string { return p.name }

// Dispatcher returns the handler for inbound RPCs, for wiring into a
// transport-level RPC server.
func (p *Peer) Dispatcher() *Dispatcher { return p.dispatcher }

// Stats returns the peer's statistics sink.
func (p *Peer) Stats() *Stats { return p.stats }

// HomeContact returns a Contact describing this peer itself, suitable
// for a remote peer to add to its own routing table (e.g. the return
// value of Join).
func (p *Peer) HomeContact() *Contact {
	return NewContact(p.self.clone(), p.name, nil)
}

// Close stops the refresh scheduler and the routing table's mutation
// worker. The peer must not be used afterwards.
func (p *Peer) Close() {
	p.sched.stop()
	p.table.Close()
}

// resolveKey coerces target to a Key: if it is already a Key it is
// returned unchanged, if it is a string it is hashed via DeriveKey.
func (p *Peer) resolveKey(target interface{}) (Key, error) {
	switch v := target.(type) {
	case Key:
		return v, nil
	case string:
		return DeriveKey(v, p.cfg.KeySize), nil
	default:
		return nil, fmt.Errorf("dht: unsupported lookup target type %T", target)
	}
}

func (p *Peer) pingFunc(ctx context.Context, contact *Contact) error {
	err := p.network.Ping(ctx, contact)
	if err == nil {
		contact.setState(StateConnected)
	} else {
		contact.setState(StateDisconnected)
	}
	return err
}

func (p *Peer) addContact(contact *Contact) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.QueryTimeout)
	defer cancel()
	if _, err := p.table.AddContact(ctx, contact, p.pingFunc); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "peer",
			"key":       contact.Key.String(),
			"error":     err.Error(),
		}).Debug("addContact declined")
	}
}

// replicateCloserStorage pushes every locally stored (key, value) for
// which contact is now at least as close as self onto contact,
// fire-and-forget.
// Invoked whenever a contact is newly Added to the routing table.
func (p *Peer) replicateCloserStorage(contact *Contact) {
	for _, key := range p.storage.Keys() {
		value, ok := p.storage.RetrieveLocally(key)
		if !ok {
			continue
		}
		contactDist := Distance(contact.Key, key)
		selfDist := Distance(p.self, key)
		if !(Less(contactDist, selfDist) || contactDist.Equal(selfDist)) {
			continue
		}
		go func(c *Contact, k Key, v []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.QueryTimeout)
			defer cancel()
			_ = p.network.Store(ctx, c, k, v)
		}(contact, key, value)
	}
}

// touchBucketRefresh arms the refresh timer for the bucket target falls
// into, per the lookup seed step: "If target != self.key, arm refresh
// for the bucket containing target."
func (p *Peer) touchBucketRefresh(target Key) {
	if p.self.Equal(target) {
		return
	}
	index := BucketIndex(p.self, target)
	p.armBucketRefresh(index)
}

func (p *Peer) armBucketRefresh(index int) {
	p.sched.arm(bucketTimerKey(index), func() { p.refreshBucket(index) })
}

// refreshBucket runs locate_nodes against a random key in bucket index's
// range, then re-arms itself so refresh continues on the scheduler's
// jittered cadence.
func (p *Peer) refreshBucket(index int) {
	target, err := RandomKeyForBucket(p.self, index)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 4*p.cfg.QueryTimeout)
		_, _ = p.locateNodesInternal(ctx, target, p.cfg.K, false)
		cancel()
	}
	if p.stats != nil {
		p.stats.RecordBucketRefresh()
	}
	p.armBucketRefresh(index)
}

func (p *Peer) armStorageRefresh(key Key) {
	p.sched.arm(storageTimerKey(key), func() { p.republishKey(key) })
}

// republishKey re-issues store_value for a locally held key against its
// current k-closest peers, then re-arms. Republication is unconditional
// until Storage.Delete removes the entry locally (open question 3: no
// automatic ownership migration).
func (p *Peer) republishKey(key Key) {
	value, ok := p.storage.RetrieveLocally(key)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*p.cfg.QueryTimeout)
	defer cancel()

	helpers, err := p.locateNodesInternal(ctx, key, 2*p.cfg.K, false)
	if err == nil {
		p.storeToHelpers(ctx, helpers, key, value)
	}
	if p.stats != nil {
		p.stats.RecordStorageRefresh()
	}
	p.armStorageRefresh(key)
}

func (p *Peer) storeToHelpers(ctx context.Context, helpers []Helper, key Key, value []byte) int {
	successes := 0
	for _, h := range helpers {
		if successes >= p.cfg.K {
			break
		}
		if h.Contact.Key.Equal(p.self) {
			p.storage.StoreLocally(key, value)
			successes++
			continue
		}
		storeCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
		err := p.network.Store(storeCtx, h.Contact, key, value)
		cancel()
		if p.stats != nil {
			p.stats.RecordRPCSent("store")
		}
		if err == nil {
			successes++
		}
		// A failing store does not consume a replication slot; the next
		// helper is tried regardless.
	}
	return successes
}

func (p *Peer) locateNodesInternal(ctx context.Context, target Key, count int, includeSelf bool) ([]Helper, error) {
	p.touchBucketRefresh(target)
	l := newLookup(p.self, target, findNodesKind, count, includeSelf, p.cfg, p.network, p.table, p.storage, p.stats, func(c *Contact) { go p.addContact(c) })
	result, err := l.run(ctx)
	if err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// LocateNodes coerces target to a Key and runs an iterative find_nodes
// lookup, returning up to k Helpers ordered by ascending distance.
func (p *Peer) LocateNodes(ctx context.Context, target interface{}) ([]Helper, error) {
	key, err := p.resolveKey(target)
	if err != nil {
		return nil, err
	}
	return p.locateNodesInternal(ctx, key, p.cfg.K, false)
}

// LocateValue coerces target to a Key. If the value is already stored
// locally it is returned immediately without issuing any RPC; otherwise
// an iterative find_value lookup is run. Returns ErrValueNotFound if the
// lookup does not produce a Value result.
func (p *Peer) LocateValue(ctx context.Context, target interface{}) ([]byte, error) {
	key, err := p.resolveKey(target)
	if err != nil {
		return nil, err
	}

	if value, ok := p.storage.RetrieveLocally(key); ok {
		return value, nil
	}

	p.touchBucketRefresh(key)
	l := newLookup(p.self, key, findValueKind, p.cfg.K, false, p.cfg, p.network, p.table, p.storage, p.stats, func(c *Contact) { go p.addContact(c) })
	result, err := l.run(ctx)
	if err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrValueNotFound
	}
	return result.Value, nil
}

// StoreValue coerces target to a Key, locates its 2k closest peers
// (including self as a candidate, since a node may be one of its own
// value's replicas), and issues store RPCs best-first until k
// replicas succeed or candidates are exhausted. Returns the number of
// successful replicas, in [0,k]; a failing store never consumes a
// replication slot.
func (p *Peer) StoreValue(ctx context.Context, target interface{}, value []byte) (int, error) {
	key, err := p.resolveKey(target)
	if err != nil {
		return 0, err
	}

	helpers, err := p.locateNodesInternal(ctx, key, 2*p.cfg.K, true)
	if err != nil {
		return 0, err
	}

	return p.storeToHelpers(ctx, helpers, key, value), nil
}

// Join clones bootstrap into this peer's own routing table, runs
// locate_nodes(self.key) to populate the buckets between self and
// bootstrap, and refreshes the farthest non-empty bucket (per this
// engine's resolution of the refresh-on-join open question: the
// farthest bucket alone is the required minimum; refreshing nearer
// buckets too is permitted but not performed here). Returns this peer's
// home contact.
func (p *Peer) Join(ctx context.Context, bootstrap *Contact) (*Contact, error) {
	owned := bootstrap.Clone()
	if _, err := p.table.AddContact(ctx, owned, p.pingFunc); err != nil {
		return nil, err
	}

	if _, err := p.locateNodesInternal(ctx, p.self, p.cfg.K, false); err != nil {
		return nil, err
	}

	if index, ok := p.table.FarthestNonEmptyBucket(); ok {
		go p.refreshBucket(index)
	}

	logrus.WithFields(logrus.Fields{
		"component": "peer",
		"self":      p.self.String(),
		"bootstrap": owned.Key.String(),
	}).Info("join completed")

	return p.HomeContact(), nil
}
