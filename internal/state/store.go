// Package state is the explicit store behind the CLI and the gateway: the
// current target and baseline, the last scan result, scan credentials, the
// scan history and local page-type overrides.
//
// A Store hydrates every key from its KV backend when opened. Each setter
// writes the full value through to the backend before updating memory.
// Subscribers are notified after the write lock is released, so they may
// call back into the Store. History appends go through the backend's atomic
// Update so stores sharing one backend keep every entry. Overrides are not
// persisted; the gateway holds them for the lifetime of its process.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/infra/eventbus/memory"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// Persisted keys.
const (
	KeyTargetURL       = "inspectra_target_url"
	KeyBaselineURL     = "inspectra_baseline_url"
	KeyScanResult      = "inspectra_scan_result"
	KeyScanCredentials = "inspectra_scan_credentials"
	KeyScanHistory     = "inspectra_scan_history"
)

// KeyOverrides names override changes in notifications. It is never persisted.
const KeyOverrides = "inspectra_overrides"

// PersistedKeys lists every key a Store reads and writes.
var PersistedKeys = []string{KeyTargetURL, KeyBaselineURL, KeyScanResult, KeyScanCredentials, KeyScanHistory}

// DefaultHistoryLimit caps the history when no limit is configured.
const DefaultHistoryLimit = 50

// Change describes a mutation delivered to subscribers.
type Change struct {
	Key string
	At  time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit caps the number of history entries kept.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets the logger used for hydration warnings.
func WithLogger(log *logger.Logger) Option { return func(s *Store) { s.log = log } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Store holds the client state. It is safe for concurrent use.
type Store struct {
	kv           KV
	log          *logger.Logger
	historyLimit int
	now          func() time.Time

	// writeMu serializes mutations so persistence order matches memory order.
	writeMu sync.Mutex
	mu      sync.RWMutex

	targetURL   string
	baselineURL string
	result      *scan.ScanResult
	creds       scan.Credentials
	history     []scan.HistoryEntry
	overrides   map[string]scan.PageType

	changes memory.Topic[Change]
}

// Open creates a Store over kv and hydrates it. Values that fail to decode
// are treated as absent and logged; backend errors fail the open.
func Open(ctx context.Context, kv KV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:           kv,
		log:          logger.New(io.Discard, logger.LevelError, "state", nil),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		overrides:    make(map[string]scan.PageType),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w", key, err)
	}
	return b, len(b) > 0, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok, err := s.load(ctx, KeyTargetURL); err != nil {
		return err
	} else if ok {
		s.targetURL = string(b)
	}

	if b, ok, err := s.load(ctx, KeyBaselineURL); err != nil {
		return err
	} else if ok {
		s.baselineURL = string(b)
	}

	if b, ok, err := s.load(ctx, KeyScanResult); err != nil {
		return err
	} else if ok {
		var r scan.ScanResult
		if err := json.Unmarshal(b, &r); err != nil {
			s.log.Warn(ctx, "ignoring corrupt persisted value", "key", KeyScanResult, "error", err)
		} else {
			s.result = &r
		}
	}

	if b, ok, err := s.load(ctx, KeyScanCredentials); err != nil {
		return err
	} else if ok {
		var c scan.Credentials
		if err := json.Unmarshal(b, &c); err != nil {
			s.log.Warn(ctx, "ignoring corrupt persisted value", "key", KeyScanCredentials, "error", err)
		} else {
			s.creds = c
		}
	}

	b, _, err := s.load(ctx, KeyScanHistory)
	if err != nil {
		return err
	}
	s.history = s.decodeHistory(ctx, b)

	return nil
}

// write persists value under key, deleting the key when value is empty.
func (s *Store) write(ctx context.Context, key string, value []byte) error {
	if len(value) == 0 {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("persisting %s: %w", key, err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, key string) {
	if err := s.changes.Publish(context.WithoutCancel(ctx), Change{Key: key, At: s.now()}); err != nil {
		s.log.Warn(ctx, "state subscriber failed", "key", key, "error", err)
	}
}

// mutate persists value under key, then applies the in-memory update.
// Memory is left untouched when persisting fails. Subscribers are notified
// after writeMu is released so they may mutate the store themselves.
func (s *Store) mutate(ctx context.Context, key string, value []byte, apply func()) error {
	s.writeMu.Lock()
	err := s.commit(ctx, key, value, apply)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.notify(ctx, key)
	return nil
}

// commit persists value and applies the in-memory update. The caller holds
// writeMu and notifies subscribers once it is released.
func (s *Store) commit(ctx context.Context, key string, value []byte, apply func()) error {
	if err := s.write(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	apply()
	s.mu.Unlock()
	return nil
}

// TargetURL returns the current target.
func (s *Store) TargetURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetURL
}

// SetTargetURL replaces the target. An empty URL clears it.
func (s *Store) SetTargetURL(ctx context.Context, u string) error {
	u = strings.TrimSpace(u)
	return s.mutate(ctx, KeyTargetURL, []byte(u), func() { s.targetURL = u })
}

// BaselineURL returns the baseline used for comparisons.
func (s *Store) BaselineURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baselineURL
}

// SetBaselineURL replaces the baseline. An empty URL clears it.
func (s *Store) SetBaselineURL(ctx context.Context, u string) error {
	u = strings.TrimSpace(u)
	return s.mutate(ctx, KeyBaselineURL, []byte(u), func() { s.baselineURL = u })
}

// ScanResult returns the last scan result.
func (s *Store) ScanResult() (scan.ScanResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return scan.ScanResult{}, false
	}
	return *s.result, true
}

// SetScanResult stores r. A decoded result is persisted byte for byte as it
// was received. A nil r clears the stored result.
func (s *Store) SetScanResult(ctx context.Context, r *scan.ScanResult) error {
	if r == nil {
		return s.mutate(ctx, KeyScanResult, nil, func() { s.result = nil })
	}
	cp, b, err := encodeResult(*r)
	if err != nil {
		return err
	}
	return s.mutate(ctx, KeyScanResult, b, func() { s.result = &cp })
}

// encodeResult returns r with Raw set to the bytes that get persisted.
func encodeResult(r scan.ScanResult) (scan.ScanResult, []byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return scan.ScanResult{}, nil, fmt.Errorf("encoding scan result: %w", err)
	}
	r.Raw = b
	return r, b, nil
}

// Credentials returns the stored scan credentials.
func (s *Store) Credentials() scan.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials stores c. Zero credentials clear the key.
func (s *Store) SetCredentials(ctx context.Context, c scan.Credentials) error {
	var b []byte
	if !c.IsZero() {
		var err error
		if b, err = json.Marshal(c); err != nil {
			return fmt.Errorf("encoding credentials: %w", err)
		}
	}
	return s.mutate(ctx, KeyScanCredentials, b, func() { s.creds = c })
}

// History returns the scan history, newest first.
func (s *Store) History() []scan.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Latest returns the newest history entry.
func (s *Store) Latest() (scan.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return scan.HistoryEntry{}, false
	}
	return s.history[0], true
}

// AppendHistory records a new entry at the front of the history and drops
// the oldest entries beyond the limit. The history is re-read from the
// backend as part of the write, so entries appended by other processes
// sharing the backend are kept.
func (s *Store) AppendHistory(ctx context.Context, e scan.HistoryEntry) error {
	s.writeMu.Lock()
	err := s.appendHistory(ctx, e)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.notify(ctx, KeyScanHistory)
	return nil
}

// appendHistory is AppendHistory without locking writeMu or notifying.
func (s *Store) appendHistory(ctx context.Context, e scan.HistoryEntry) error {
	var next []scan.HistoryEntry
	err := Update(ctx, s.kv, KeyScanHistory, func(cur []byte) ([]byte, error) {
		prev := s.decodeHistory(ctx, cur)
		next = make([]scan.HistoryEntry, 0, min(len(prev)+1, s.historyLimit))
		next = append(next, e)
		for _, h := range prev {
			if len(next) == s.historyLimit {
				break
			}
			next = append(next, h)
		}
		b, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encoding history: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.history = next
	s.mu.Unlock()
	return nil
}

// decodeHistory decodes a persisted history, treating a corrupt value as
// empty.
func (s *Store) decodeHistory(ctx context.Context, b []byte) []scan.HistoryEntry {
	if len(b) == 0 {
		return nil
	}
	var h []scan.HistoryEntry
	if err := json.Unmarshal(b, &h); err != nil {
		s.log.Warn(ctx, "ignoring corrupt persisted value", "key", KeyScanHistory, "error", err)
		return nil
	}
	if len(h) > s.historyLimit {
		h = h[:s.historyLimit]
	}
	return h
}

// LoadHistory re-reads the history from the backend, refreshing the
// in-memory copy with entries written by other processes.
func (s *Store) LoadHistory(ctx context.Context) ([]scan.HistoryEntry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, _, err := s.load(ctx, KeyScanHistory)
	if err != nil {
		return nil, err
	}
	h := s.decodeHistory(ctx, b)

	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
	return slices.Clone(h), nil
}

// RecordScan stores r as the current result and appends it to the history
// as one operation, so concurrent scans never pair a target with another
// scan's result.
func (s *Store) RecordScan(ctx context.Context, target string, r scan.ScanResult) (scan.HistoryEntry, error) {
	stored, b, err := encodeResult(r)
	if err != nil {
		return scan.HistoryEntry{}, err
	}
	entry := scan.NewHistoryEntry(target, stored, s.now())

	s.writeMu.Lock()
	err = s.commit(ctx, KeyScanResult, b, func() { s.result = &stored })
	if err == nil {
		err = s.appendHistory(ctx, entry)
	}
	s.writeMu.Unlock()
	if err != nil {
		return scan.HistoryEntry{}, err
	}

	s.notify(ctx, KeyScanResult)
	s.notify(ctx, KeyScanHistory)
	return entry, nil
}

// ClearHistory removes every history entry.
func (s *Store) ClearHistory(ctx context.Context) error {
	return s.mutate(ctx, KeyScanHistory, nil, func() { s.history = nil })
}

// Override returns the local page type override of pageURL.
func (s *Store) Override(pageURL string) (scan.PageType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.overrides[pageURL]
	return t, ok
}

// Overrides returns a copy of every local override.
func (s *Store) Overrides() map[string]scan.PageType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.overrides)
}

// SetOverride records a local page type override. Overrides are not persisted.
func (s *Store) SetOverride(ctx context.Context, pageURL string, t scan.PageType) {
	s.mu.Lock()
	s.overrides[pageURL] = t
	s.mu.Unlock()
	s.notify(ctx, KeyOverrides)
}

// DeleteOverride drops the override of pageURL.
func (s *Store) DeleteOverride(ctx context.Context, pageURL string) {
	s.mu.Lock()
	_, ok := s.overrides[pageURL]
	delete(s.overrides, pageURL)
	s.mu.Unlock()
	if ok {
		s.notify(ctx, KeyOverrides)
	}
}

// ClearOverrides drops every local override.
func (s *Store) ClearOverrides(ctx context.Context) {
	s.mu.Lock()
	clear(s.overrides)
	s.mu.Unlock()
	s.notify(ctx, KeyOverrides)
}

// Subscribe calls fn after every mutation until ctx is done.
func (s *Store) Subscribe(ctx context.Context, fn func(Change)) error {
	return s.changes.Subscribe(ctx, func(_ context.Context, c Change) error {
		fn(c)
		return nil
	})
}

// Ping checks the backend when it supports health checks.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.kv.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
