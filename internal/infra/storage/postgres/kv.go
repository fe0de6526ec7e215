// Package postgres provides a state backend on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/infra/storage"
	"github.com/ahrav/inspectra/internal/state"
)

var (
	_ state.KV      = (*kvStore)(nil)
	_ state.Pinger  = (*kvStore)(nil)
	_ state.Updater = (*kvStore)(nil)
)

const (
	getEntry    = `SELECT value FROM state_entries WHERE key = $1`
	upsertEntry = `INSERT INTO state_entries (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	deleteEntry = `DELETE FROM state_entries WHERE key = $1`
	lockEntry   = `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`
)

// queryTimeout bounds every statement.
const queryTimeout = 3 * time.Second

// kvStore keeps state entries in the state_entries table. Values are stored
// as bytea so they round-trip byte for byte.
type kvStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewKVStore creates a PostgreSQL-backed state backend. The schema must
// already be migrated.
func NewKVStore(pool *pgxpool.Pool, tracer trace.Tracer) *kvStore {
	return &kvStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Get returns the value stored under key.
func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("state.key", key))

	var value []byte
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_state_entry", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		err := s.db.QueryRow(ctx, getEntry, key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return state.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get state entry query error: %w", err)
		}
		return nil
	})
	return value, err
}

// Set upserts value under key.
func (s *kvStore) Set(ctx context.Context, key string, value []byte) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("state.key", key),
		attribute.Int("value_size", len(value)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_state_entry", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		if _, err := s.db.Exec(ctx, upsertEntry, key, value); err != nil {
			return fmt.Errorf("upsert state entry error: %w", err)
		}
		return nil
	})
}

// Delete removes key.
func (s *kvStore) Delete(ctx context.Context, key string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("state.key", key))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_state_entry", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		if _, err := s.db.Exec(ctx, deleteEntry, key); err != nil {
			return fmt.Errorf("delete state entry error: %w", err)
		}
		return nil
	})
}

// Update applies fn to the value under key inside a transaction holding an
// advisory lock on the key, so updates from every process are serialized
// even while the row does not exist yet.
func (s *kvStore) Update(ctx context.Context, key string, fn state.UpdateFunc) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("state.key", key))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_state_entry", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, lockEntry, key); err != nil {
				return fmt.Errorf("lock state entry error: %w", err)
			}

			var cur []byte
			err := tx.QueryRow(ctx, getEntry, key).Scan(&cur)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("get state entry query error: %w", err)
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, upsertEntry, key, next); err != nil {
				return fmt.Errorf("upsert state entry error: %w", err)
			}
			return nil
		})
	})
}

// Ping checks the pool.
func (s *kvStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }
