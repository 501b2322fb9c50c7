package dht

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// AddResult classifies the outcome of inserting a contact into a bucket.
type AddResult int

const (
	// Added means the contact is now present (new insertion or an
	// evicted head made room for it).
	Added AddResult = iota
	// AlreadyPresent means the contact was already in the bucket and has
	// been moved to the tail.
	AlreadyPresent
	// Rejected means the bucket was full and its head contact responded
	// to a liveness probe, so the new contact was refused.
	Rejected
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// kBucket is an ordered list of up to k contacts for one XOR-distance
// band, least-recently-confirmed at head and most-recently-confirmed at
// tail. Every contact it holds satisfies BucketIndex(owner, c.key) ==
// index. No replacement cache is maintained: an evicted head is gone.
type kBucket struct {
	mu       sync.Mutex
	index    int
	k        int
	contacts []*Contact
}

func newKBucket(index, k int) *kBucket {
	return &kBucket{index: index, k: k, contacts: make([]*Contact, 0, k)}
}

func (b *kBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contacts)
}

// snapshot returns a copy of the bucket's contact slice, safe for the
// caller to iterate without holding the bucket's lock.
func (b *kBucket) snapshot() []*Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

func (b *kBucket) indexOfLocked(key Key) int {
	for i, c := range b.contacts {
		if c.Key.Equal(key) {
			return i
		}
	}
	return -1
}

// add implements the bucket insertion algorithm: if the key is already
// present, move it to the tail (AlreadyPresent). If the bucket is not
// full, append (Added). If full, ping the head with a bounded timeout
// before evicting — if the head answers, the new contact is rejected and
// the head moves to the tail; if the head is silent, it is evicted and
// the new contact takes the tail.
//
// The probe happens before the head is removed, so a concurrent lookup
// that is also trying to insert into this bucket never observes a gap
// where the head has already been dropped but the replacement has not
// yet landed.
func (b *kBucket) add(ctx context.Context, contact *Contact, ping func(context.Context, *Contact) error) AddResult {
	logger := logrus.WithFields(logrus.Fields{
		"component": "kbucket",
		"bucket":    b.index,
		"key":       contact.Key.String(),
	})

	b.mu.Lock()
	if i := b.indexOfLocked(contact.Key); i >= 0 {
		existing := b.contacts[i]
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		b.contacts = append(b.contacts, existing)
		b.mu.Unlock()
		logger.Debug("contact already present, moved to tail")
		return AlreadyPresent
	}

	if len(b.contacts) < b.k {
		b.contacts = append(b.contacts, contact)
		b.mu.Unlock()
		logger.Debug("bucket had room, contact added")
		return Added
	}

	head := b.contacts[0]
	b.mu.Unlock()

	err := ping(ctx, head)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if i := b.indexOfLocked(head.Key); i >= 0 {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, head)
		}
		logger.WithField("head", head.Key.String()).Debug("head alive, new contact rejected")
		return Rejected
	}

	if i := b.indexOfLocked(head.Key); i >= 0 {
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	}
	b.contacts = append(b.contacts, contact)
	logger.WithField("evicted", head.Key.String()).Info("head unresponsive, evicted and new contact added")
	return Added
}

// remove deletes the contact with the given key. Returns true if a
// contact was removed.
func (b *kBucket) remove(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOfLocked(key)
	if i < 0 {
		return false
	}
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	return true
}

// isEmpty reports whether the bucket currently holds no contacts.
func (b *kBucket) isEmpty() bool {
	return b.len() == 0
}
