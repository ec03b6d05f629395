package storage

import "errors"

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("invalid storage key")

// KV is the opaque persistence collaborator used by the workspace store.
// Keys are slash-separated; values are whatever the caller serialises.
type KV interface {
	// Get returns the stored bytes and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, data []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys lists stored keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}
