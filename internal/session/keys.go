package session

import (
	"maps"
	"slices"
)

// UserKey is one registered decryption key. Data is owned by the key set and
// must not be modified by readers.
type UserKey struct {
	ID   string
	Data []byte
}

// KeySet is an immutable snapshot of a session's registered keys. Readers
// hold a snapshot for the duration of an operation and never observe a
// registration half-applied.
type KeySet struct {
	keys map[string]UserKey
}

var emptyKeySet = &KeySet{keys: map[string]UserKey{}}

// Get returns the key registered under id.
func (ks *KeySet) Get(id string) (UserKey, bool) {
	k, ok := ks.keys[id]
	return k, ok
}

// Len returns the number of registered keys.
func (ks *KeySet) Len() int {
	return len(ks.keys)
}

// IDs returns the registered key ids in sorted order.
func (ks *KeySet) IDs() []string {
	return slices.Sorted(maps.Keys(ks.keys))
}

// with returns a new set with key added or replaced. The receiver is left
// untouched.
func (ks *KeySet) with(key UserKey) *KeySet {
	next := make(map[string]UserKey, len(ks.keys)+1)
	maps.Copy(next, ks.keys)
	next[key.ID] = key

	return &KeySet{keys: next}
}

// KeyUnlocker decrypts an armored, passphrase-locked private key into the raw
// key bytes that get registered. Implemented by the crypto collaborator.
type KeyUnlocker interface {
	UnlockKey(armored, passphrase []byte) ([]byte, error)
}
