// Package memory provides an in-process state backend.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/ahrav/inspectra/internal/state"
)

var (
	_ state.KV      = (*KV)(nil)
	_ state.Updater = (*KV)(nil)
)

// KV keeps values in a map. The zero value is ready to use.
type KV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New returns an empty KV.
func New() *KV { return &KV{values: make(map[string][]byte)} }

// Get returns a copy of the value stored under key.
func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	v, ok := kv.values[key]
	if !ok {
		return nil, state.ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value under key.
func (kv *KV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.values == nil {
		kv.values = make(map[string][]byte)
	}
	kv.values[key] = bytes.Clone(value)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.values, key)
	return nil
}

// Update replaces the value under key with fn's result while holding the
// lock. The value is left unchanged when fn fails.
func (kv *KV) Update(_ context.Context, key string, fn state.UpdateFunc) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	next, err := fn(bytes.Clone(kv.values[key]))
	if err != nil {
		return err
	}
	if kv.values == nil {
		kv.values = make(map[string][]byte)
	}
	kv.values[key] = bytes.Clone(next)
	return nil
}

// Len reports how many keys are stored.
func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.values)
}
