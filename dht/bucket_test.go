package dht

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysAlive(context.Context, *Contact) error { return nil }
func alwaysDead(context.Context, *Contact) error  { return ErrTransportFailure }

func fillBucket(t *testing.T, b *kBucket, n int) []*Contact {
	t.Helper()
	contacts := make([]*Contact, n)
	for i := 0; i < n; i++ {
		c := NewContact(DeriveKey("contact-"+string(rune('a'+i)), 64), "", nil)
		contacts[i] = c
		res := b.add(context.Background(), c, alwaysAlive)
		require.Equal(t, Added, res)
	}
	return contacts
}

func TestBucketAddFillsThenRejectsWhenHeadAlive(t *testing.T) {
	b := newKBucket(0, 4)
	contacts := fillBucket(t, b, 4)
	require.Equal(t, 4, b.len())

	newContact := NewContact(DeriveKey("overflow", 64), "", nil)
	result := b.add(context.Background(), newContact, alwaysAlive)

	assert.Equal(t, Rejected, result)
	assert.Equal(t, 4, b.len())

	snap := b.snapshot()
	// The probed head moved to the tail; it must still be present.
	assert.Equal(t, contacts[0].Key, snap[len(snap)-1].Key)
}

func TestBucketAddEvictsDeadHead(t *testing.T) {
	b := newKBucket(0, 4)
	contacts := fillBucket(t, b, 4)

	newContact := NewContact(DeriveKey("overflow", 64), "", nil)
	result := b.add(context.Background(), newContact, alwaysDead)

	assert.Equal(t, Added, result)
	assert.Equal(t, 4, b.len())

	snap := b.snapshot()
	for _, c := range snap {
		assert.NotEqual(t, contacts[0].Key.String(), c.Key.String(), "dead head must be evicted")
	}
	assert.Equal(t, newContact.Key, snap[len(snap)-1].Key)
}

func TestBucketAddMovesExistingToTail(t *testing.T) {
	b := newKBucket(0, 4)
	contacts := fillBucket(t, b, 3)

	result := b.add(context.Background(), contacts[0], alwaysAlive)
	assert.Equal(t, AlreadyPresent, result)
	assert.Equal(t, 3, b.len())

	snap := b.snapshot()
	assert.Equal(t, contacts[0].Key, snap[len(snap)-1].Key)

	// Re-adding again leaves size unchanged and the contact still at
	// tail, twice over (idempotence under repeated add).
	result = b.add(context.Background(), contacts[0], alwaysAlive)
	assert.Equal(t, AlreadyPresent, result)
	assert.Equal(t, 3, b.len())
	snap = b.snapshot()
	assert.Equal(t, contacts[0].Key, snap[len(snap)-1].Key)
}

func TestBucketAddBelowCapacity(t *testing.T) {
	b := newKBucket(3, 20)
	c := NewContact(DeriveKey("fresh", 64), "", nil)
	result := b.add(context.Background(), c, alwaysAlive)
	assert.Equal(t, Added, result)
	assert.Equal(t, 1, b.len())
}

func TestBucketRemove(t *testing.T) {
	b := newKBucket(0, 4)
	contacts := fillBucket(t, b, 2)

	assert.True(t, b.remove(contacts[0].Key))
	assert.Equal(t, 1, b.len())
	assert.False(t, b.isEmpty())

	assert.True(t, b.remove(contacts[1].Key))
	assert.True(t, b.isEmpty())

	assert.False(t, b.remove(contacts[1].Key), "removing an absent key returns false")
}
