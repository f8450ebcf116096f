package providers

import (
	"context"
)

// KeyValue is a stored value together with its key.
type KeyValue struct {
	Key   string
	Value []byte
}

// KeyValueStore defines the persistence operations the learning store relies on.
// Values are JSON documents. No multi-key atomicity is assumed.
type KeyValueStore interface {
	// Get returns the value for key; found is false when the key does not exist
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// GetByPrefix returns every entry whose key starts with prefix, ordered by key
	GetByPrefix(ctx context.Context, prefix string) ([]KeyValue, error)
}

// UpdateFunc computes the next value of a key from its current value.
// Returning an error aborts the update and leaves the key unchanged.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// AtomicUpdater is implemented by stores that can perform a serialized
// read-modify-write of a single key.
type AtomicUpdater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
