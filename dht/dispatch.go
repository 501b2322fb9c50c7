package dht

import "github.com/sirupsen/logrus"

// Dispatcher decodes inbound RPCs and routes them to ping/store/
// find_nodes/find_value, per C7. It never blocks on routing-table
// mutation: every inbound RPC enqueues addToRoutingTable(sender)
// asynchronously through enqueueAdd, so the sender can finish joining
// without its own RPC response waiting on that insertion.
type Dispatcher struct {
	self    Key
	k       int
	table   *RoutingTable
	storage *Storage
	stats   *Stats

	enqueueAdd func(sender *Contact)
}

// NewDispatcher builds a Dispatcher wired to the given routing table and
// storage. enqueueAdd is called once per inbound RPC with the contact
// that sent it.
func NewDispatcher(self Key, k int, table *RoutingTable, storage *Storage, stats *Stats, enqueueAdd func(*Contact)) *Dispatcher {
	return &Dispatcher{self: self, k: k, table: table, storage: storage, stats: stats, enqueueAdd: enqueueAdd}
}

// assertSender checks the core's invariant that a Contact presenting
// itself on the wire claims the same key its own RPC argument declares.
// A mismatch is a bug under this design's trust model (contacts are
// trusted by key only; see spec's Non-goals) and is reported as an
// InvariantError for the caller to escalate.
func (d *Dispatcher) assertSender(sender *Contact, declaredKey Key) error {
	if !sender.Key.Equal(declaredKey) {
		return newInvariantError("dispatch", "sender key does not match RPC-declared key")
	}
	return nil
}

// HandlePing answers a ping(key) RPC with "pong" and enqueues the sender
// for routing-table insertion.
func (d *Dispatcher) HandlePing(sender *Contact, declaredKey Key) (string, error) {
	if err := d.assertSender(sender, declaredKey); err != nil {
		return "", err
	}
	if d.stats != nil {
		d.stats.RecordRPCReceived("ping")
	}
	d.enqueueAdd(sender)
	return "pong", nil
}

// HandleStore answers a store(key, value) RPC by writing the value
// locally and enqueues the sender for routing-table insertion.
func (d *Dispatcher) HandleStore(sender *Contact, key Key, value []byte) (string, error) {
	if d.stats != nil {
		d.stats.RecordRPCReceived("store")
	}
	d.storage.StoreLocally(key, value)
	d.enqueueAdd(sender)
	logrus.WithFields(logrus.Fields{
		"component": "dispatch",
		"method":    "store",
		"sender":    sender.Key.String(),
		"key":       key.String(),
	}).Debug("inbound store RPC handled")
	return "pong", nil
}

// HandleFindNodes answers a find_nodes(key) RPC with the locally known
// closest contacts to key.
func (d *Dispatcher) HandleFindNodes(sender *Contact, target Key) ([]Helper, error) {
	if d.stats != nil {
		d.stats.RecordRPCReceived("find_nodes")
	}
	d.enqueueAdd(sender)
	return d.table.FindClosest(target, d.k), nil
}

// HandleFindValue answers a find_value(key) RPC: the stored value if
// present locally, otherwise the closest known contacts, exactly as
// find_nodes would.
func (d *Dispatcher) HandleFindValue(sender *Contact, target Key) (*FindValueResult, error) {
	if d.stats != nil {
		d.stats.RecordRPCReceived("find_value")
	}
	d.enqueueAdd(sender)
	if value, ok := d.storage.RetrieveLocally(target); ok {
		return &FindValueResult{Value: value}, nil
	}
	return &FindValueResult{Nodes: d.table.FindClosest(target, d.k)}, nil
}
