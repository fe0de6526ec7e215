package state

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by KV.Get for keys that hold no value.
var ErrNotFound = errors.New("state: key not found")

// KV is the persistence backend of a Store. Values are opaque bytes written
// and read back verbatim.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UpdateFunc computes the next value of a key from its current one. cur is
// nil when the key holds no value.
type UpdateFunc func(cur []byte) ([]byte, error)

// Updater is implemented by backends that can read-modify-write a key
// atomically, including against other processes sharing the backend.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Update applies fn to key through kv's Updater when it has one. Otherwise
// it reads, applies and writes back without any cross-process guarantee.
func Update(ctx context.Context, kv KV, key string, fn UpdateFunc) error {
	if u, ok := kv.(Updater); ok {
		return u.Update(ctx, key, fn)
	}

	cur, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		cur = nil
	} else if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if err := kv.Set(ctx, key, next); err != nil {
		return fmt.Errorf("persisting %s: %w", key, err)
	}
	return nil
}
