package dht

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// RoutingTable is a keysize-indexed collection of k-buckets. Buckets are
// created lazily and deleted when they empty; a node's own key never
// occupies a bucket. All insertions and removals run through a single
// serialized mutation queue owned by the table, so the invariants "a
// bucket never holds two entries with the same key" and "routing-table
// mutations are totally ordered" hold under any interleaving. Reads
// (iteration, findClosest) are lock-free against that queue and only
// take each bucket's own lock, so they may observe reorderings but never
// a torn contact.
type RoutingTable struct {
	self Key
	k    int

	mu      sync.RWMutex
	buckets map[int]*kBucket

	mutate chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	onAdded func(contact *Contact)
}

// NewRoutingTable creates a table for the given self key and bucket
// width k, and starts its serialized mutation worker. Call Close to stop
// the worker.
func NewRoutingTable(self Key, k int) *RoutingTable {
	t := &RoutingTable{
		self:    self,
		k:       k,
		buckets: make(map[int]*kBucket),
		mutate:  make(chan func(), 64),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// SetOnAdded registers a callback invoked, outside the mutation queue,
// whenever a contact is newly Added to a bucket. The peer engine uses
// this to schedule replicateCloserStorage as background work.
func (t *RoutingTable) SetOnAdded(fn func(contact *Contact)) {
	t.mu.Lock()
	t.onAdded = fn
	t.mu.Unlock()
}

func (t *RoutingTable) run() {
	defer t.wg.Done()
	for {
		select {
		case fn := <-t.mutate:
			fn()
		case <-t.done:
			// Drain any mutations already queued before this table was
			// asked to stop, so callers blocked on submit's result
			// channel are not left hanging.
			for {
				select {
				case fn := <-t.mutate:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit runs fn on the serialized mutation queue and blocks until it
// has completed.
func (t *RoutingTable) submit(fn func()) {
	done := make(chan struct{})
	t.mutate <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops the mutation worker. The table must not be used
// afterwards.
func (t *RoutingTable) Close() {
	close(t.done)
	t.wg.Wait()
}

func (t *RoutingTable) bucketFor(index int) *kBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[index]
	if !ok {
		b = newKBucket(index, t.k)
		t.buckets[index] = b
	}
	return b
}

// AddContact computes contact's bucket index and runs bucket.add on the
// serialized queue. Rejects attempts to add self. Returns the AddResult
// and, when it is Added, invokes the onAdded callback (outside the
// queue, so the callback may itself call back into the table).
func (t *RoutingTable) AddContact(ctx context.Context, contact *Contact, ping func(context.Context, *Contact) error) (AddResult, error) {
	if t.self.Equal(contact.Key) {
		return Rejected, ErrSelfContact
	}

	index := BucketIndex(t.self, contact.Key)
	var result AddResult
	t.submit(func() {
		b := t.bucketFor(index)
		result = b.add(ctx, contact, ping)
		if b.isEmpty() {
			t.mu.Lock()
			delete(t.buckets, index)
			t.mu.Unlock()
		}
	})

	if result == Added {
		t.mu.RLock()
		cb := t.onAdded
		t.mu.RUnlock()
		if cb != nil {
			cb(contact)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "routing_table",
		"key":       contact.Key.String(),
		"bucket":    index,
		"result":    result.String(),
	}).Debug("add to routing table")

	return result, nil
}

// RemoveContact removes contact from its bucket; if that empties the
// bucket, the bucket entry itself is deleted.
func (t *RoutingTable) RemoveContact(contact *Contact) {
	if t.self.Equal(contact.Key) {
		return
	}
	index := BucketIndex(t.self, contact.Key)
	t.submit(func() {
		t.mu.RLock()
		b, ok := t.buckets[index]
		t.mu.RUnlock()
		if !ok {
			return
		}
		b.remove(contact.Key)
		if b.isEmpty() {
			t.mu.Lock()
			delete(t.buckets, index)
			t.mu.Unlock()
		}
	})
}

// FindClosest collects contacts from every bucket plus self, computes
// distance to target, sorts ascending, and truncates to count. Self is
// always a candidate.
func (t *RoutingTable) FindClosest(target Key, count int) []Helper {
	t.mu.RLock()
	buckets := make([]*kBucket, 0, len(t.buckets))
	for _, b := range t.buckets {
		buckets = append(buckets, b)
	}
	t.mu.RUnlock()

	helpers := make([]Helper, 0, count*2+1)
	if !t.self.Equal(target) {
		helpers = append(helpers, Helper{Contact: NewContact(t.self, "", nil), Distance: Distance(t.self, target)})
	}
	for _, b := range buckets {
		for _, c := range b.snapshot() {
			helpers = append(helpers, Helper{Contact: c, Distance: Distance(c.Key, target)})
		}
	}

	sortHelpers(helpers)
	if len(helpers) > count {
		helpers = helpers[:count]
	}
	return helpers
}

// BucketIndices returns the set of currently non-empty bucket indices,
// for refresh scheduling and test introspection.
func (t *RoutingTable) BucketIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.buckets))
	for i := range t.buckets {
		out = append(out, i)
	}
	return out
}

// FarthestNonEmptyBucket returns the highest bucket index currently
// holding at least one contact, and whether any bucket is non-empty.
// Used by join to pick the single bucket that open question 2 requires
// refreshing.
func (t *RoutingTable) FarthestNonEmptyBucket() (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	found := false
	farthest := -1
	for i := range t.buckets {
		if i > farthest {
			farthest = i
			found = true
		}
	}
	return farthest, found
}

// Contains reports whether key is present in some bucket.
func (t *RoutingTable) Contains(key Key) bool {
	if t.self.Equal(key) {
		return false
	}
	index := BucketIndex(t.self, key)
	t.mu.RLock()
	b, ok := t.buckets[index]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	for _, c := range b.snapshot() {
		if c.Key.Equal(key) {
			return true
		}
	}
	return false
}
