// Package redis provides a state backend on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/infra/storage"
	"github.com/ahrav/inspectra/internal/state"
)

var (
	_ state.KV      = (*KV)(nil)
	_ state.Pinger  = (*KV)(nil)
	_ state.Updater = (*KV)(nil)
)

// maxUpdateAttempts bounds optimistic retries of Update.
const maxUpdateAttempts = 10

// KV stores each state key as a plain Redis string under a common prefix.
type KV struct {
	client redis.UniversalClient
	prefix string
	tracer trace.Tracer
}

// Options configures a KV.
type Options struct {
	Addr   string
	DB     int
	Prefix string
}

// New connects to the Redis server at opts.Addr.
func New(opts Options, tracer trace.Tracer) *KV {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})
	return NewWithClient(client, opts.Prefix, tracer)
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string, tracer trace.Tracer) *KV {
	return &KV{client: client, prefix: prefix, tracer: tracer}
}

var defaultAttributes = []attribute.KeyValue{attribute.String("db.system", "redis")}

func (kv *KV) attrs(op, key string) []attribute.KeyValue {
	return append(defaultAttributes, attribute.String("db.operation", op), attribute.String("state.key", key))
}

// Get returns the value stored under key.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := storage.ExecuteAndTrace(ctx, kv.tracer, "redis.get", kv.attrs("GET", key), func(ctx context.Context) error {
		b, err := kv.client.Get(ctx, kv.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return state.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get failure: %w", err)
		}
		value = b
		return nil
	})
	return value, err
}

// Set stores value under key with no expiry.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	return storage.ExecuteAndTrace(ctx, kv.tracer, "redis.set", kv.attrs("SET", key), func(ctx context.Context) error {
		if err := kv.client.Set(ctx, kv.prefix+key, value, 0).Err(); err != nil {
			return fmt.Errorf("redis set failure: %w", err)
		}
		return nil
	})
}

// Delete removes key.
func (kv *KV) Delete(ctx context.Context, key string) error {
	return storage.ExecuteAndTrace(ctx, kv.tracer, "redis.del", kv.attrs("DEL", key), func(ctx context.Context) error {
		if err := kv.client.Del(ctx, kv.prefix+key).Err(); err != nil {
			return fmt.Errorf("redis del failure: %w", err)
		}
		return nil
	})
}

// Update applies fn to the value under key in a WATCH/MULTI transaction. It
// retries when another client modifies the key before the write commits.
func (kv *KV) Update(ctx context.Context, key string, fn state.UpdateFunc) error {
	k := kv.prefix + key
	return storage.ExecuteAndTrace(ctx, kv.tracer, "redis.update", kv.attrs("WATCH", key), func(ctx context.Context) error {
		txf := func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				cur = nil
			} else if err != nil {
				return err
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, 0)
				return nil
			})
			return err
		}

		for range maxUpdateAttempts {
			err := kv.client.Watch(ctx, txf, k)
			if errors.Is(err, redis.TxFailedErr) {
				continue
			}
			if err != nil {
				return fmt.Errorf("redis update failure: %w", err)
			}
			return nil
		}
		return fmt.Errorf("redis update failure: %s kept changing after %d attempts", key, maxUpdateAttempts)
	})
}

// Ping checks the connection.
func (kv *KV) Ping(ctx context.Context) error {
	if err := kv.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failure: %w", err)
	}
	return nil
}

// Close releases the client.
func (kv *KV) Close() error { return kv.client.Close() }
