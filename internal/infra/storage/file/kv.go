// Package file provides a state backend stored as a single JSON document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahrav/inspectra/internal/state"
)

var (
	_ state.KV      = (*KV)(nil)
	_ state.Updater = (*KV)(nil)
)

// KV persists every key in one JSON object mapping keys to their raw
// values. Each write rewrites the whole document through a temporary file
// renamed over the original, so readers never observe a partial write.
type KV struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// New returns a KV backed by path. The file and its directory are created
// on the first write.
func New(path string) *KV { return &KV{path: path} }

// Path returns the backing file.
func (kv *KV) Path() string { return kv.path }

func (kv *KV) load() error {
	if kv.loaded {
		return nil
	}

	b, err := os.ReadFile(kv.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kv.values = make(map[string]string)
	case err != nil:
		return fmt.Errorf("reading state file: %w", err)
	default:
		values := make(map[string]string)
		if len(b) > 0 {
			if err := json.Unmarshal(b, &values); err != nil {
				return fmt.Errorf("decoding state file %s: %w", kv.path, err)
			}
		}
		kv.values = values
	}
	kv.loaded = true
	return nil
}

func (kv *KV) flush() error {
	b, err := json.MarshalIndent(kv.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}

	dir := filepath.Dir(kv.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(kv.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), kv.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := kv.load(); err != nil {
		return nil, err
	}
	v, ok := kv.values[key]
	if !ok {
		return nil, state.ErrNotFound
	}
	return []byte(v), nil
}

// Set stores value under key and rewrites the file.
func (kv *KV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := kv.load(); err != nil {
		return err
	}
	prev, had := kv.values[key]
	kv.values[key] = string(value)
	if err := kv.flush(); err != nil {
		if had {
			kv.values[key] = prev
		} else {
			delete(kv.values, key)
		}
		return err
	}
	return nil
}

// Update replaces the value under key with fn's result and rewrites the
// file. Concurrent writers within the process are serialized; the file is
// not locked against other processes.
func (kv *KV) Update(_ context.Context, key string, fn state.UpdateFunc) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := kv.load(); err != nil {
		return err
	}
	prev, had := kv.values[key]
	var cur []byte
	if had {
		cur = []byte(prev)
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	kv.values[key] = string(next)
	if err := kv.flush(); err != nil {
		if had {
			kv.values[key] = prev
		} else {
			delete(kv.values, key)
		}
		return err
	}
	return nil
}

// Delete removes key and rewrites the file.
func (kv *KV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := kv.load(); err != nil {
		return err
	}
	prev, had := kv.values[key]
	if !had {
		return nil
	}
	delete(kv.values, key)
	if err := kv.flush(); err != nil {
		kv.values[key] = prev
		return err
	}
	return nil
}
