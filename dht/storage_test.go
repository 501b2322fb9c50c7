package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageStoreAndRetrieve(t *testing.T) {
	s := NewStorage()
	key := DeriveKey("foo", 64)

	_, ok := s.RetrieveLocally(key)
	assert.False(t, ok)

	s.StoreLocally(key, []byte("bar"))
	v, ok := s.RetrieveLocally(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), v)
}

func TestStorageOnStoreFiresOnlyOnChange(t *testing.T) {
	s := NewStorage()
	key := DeriveKey("foo", 64)

	fires := 0
	s.SetOnStore(func(Key) { fires++ })

	s.StoreLocally(key, []byte("bar"))
	assert.Equal(t, 1, fires)

	s.StoreLocally(key, []byte("bar"))
	assert.Equal(t, 1, fires, "an unchanged write is a no-op and does not re-arm republish")

	s.StoreLocally(key, []byte("baz"))
	assert.Equal(t, 2, fires)
}

func TestStorageRejectsEmptyValue(t *testing.T) {
	s := NewStorage()
	key := DeriveKey("foo", 64)

	s.StoreLocally(key, []byte{})
	_, ok := s.RetrieveLocally(key)
	assert.False(t, ok)
}

func TestStorageDeleteRemovesKey(t *testing.T) {
	s := NewStorage()
	key := DeriveKey("foo", 64)
	s.StoreLocally(key, []byte("bar"))

	s.Delete(key)
	_, ok := s.RetrieveLocally(key)
	assert.False(t, ok)
}

func TestStorageKeysListsEverything(t *testing.T) {
	s := NewStorage()
	k1 := DeriveKey("foo", 64)
	k2 := DeriveKey("baz", 64)
	s.StoreLocally(k1, []byte("1"))
	s.StoreLocally(k2, []byte("2"))

	keys := s.Keys()
	assert.Len(t, keys, 2)
}
