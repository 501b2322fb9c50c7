// Package dht implements a Kademlia-style distributed hash table peer
// engine: the XOR-metric address space, the k-bucket routing table and its
// eviction policy, the iterative parallel lookup procedure, replicated
// key/value storage with republication and opportunistic caching, and the
// periodic refresh scheduler that keeps buckets and stored values alive
// under churn.
//
// # Architecture
//
// Each Peer owns exactly one routing table, one storage map, and one
// refresh scheduler. Components are organized leaves-first:
//
//   - Key: the keysize-bit address derived from a peer's name
//   - Contact: an opaque handle to a remote peer, reached through the
//     Network interface
//   - kBucket: a bounded, liveness-ordered list of contacts for one
//     XOR-distance band
//   - RoutingTable: the keysize-indexed collection of buckets, mutated
//     through a single serialized queue
//   - Storage: the local key/value map; its per-key republish timers are
//     armed in the scheduler
//   - lookup: the iterative, bounded-concurrency search that backs every
//     public operation
//   - Dispatcher: decodes inbound RPCs and routes them to the right
//     handler, enqueueing the sender into the routing table
//   - scheduler: jittered, single-slot bucket-refresh and storage-republish
//     timers
//
// # Joining a network
//
//	peer, err := dht.NewPeer("alice", transport, dht.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer peer.Close()
//
//	self, err := peer.Join(ctx, bootstrapContact)
//
// # Storing and locating values
//
//	replicas, err := peer.StoreValue(ctx, "foo", []byte("bar"))
//	value, err := peer.LocateValue(ctx, "foo")
//	nodes, err := peer.LocateNodes(ctx, "foo")
//
// # Thread safety
//
// RoutingTable and Storage use sync.RWMutex and a serialized mutation
// queue for writes; reads are always safe to call from any goroutine.
// Every lookup's internal state (all_seen, pending, query_state) is
// confined to the goroutine that runs it — no other component reaches in.
//
// # Clock
//
// The scheduler reads the clock through a TimeProvider to measure how late
// each timer fired; the timer delays themselves run on the real clock:
//
//	dht.SetDefaultTimeProvider(&fixedTimeProvider{current: fixedTime})
package dht
