// Package backend opens the state backend selected by configuration.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/config"
	"github.com/ahrav/inspectra/internal/infra/storage"
	"github.com/ahrav/inspectra/internal/infra/storage/file"
	"github.com/ahrav/inspectra/internal/infra/storage/memory"
	"github.com/ahrav/inspectra/internal/infra/storage/postgres"
	"github.com/ahrav/inspectra/internal/infra/storage/redis"
	"github.com/ahrav/inspectra/internal/state"
	"github.com/ahrav/inspectra/pkg/common"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// KV is an opened backend together with the resources it holds.
type KV struct {
	state.KV
	io.Closer
}

var _ state.Updater = (*KV)(nil)

// Ping forwards to the backend when it supports health checks.
func (k *KV) Ping(ctx context.Context) error {
	if p, ok := k.KV.(state.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Update forwards to the backend's atomic update when it has one.
func (k *KV) Update(ctx context.Context, key string, fn state.UpdateFunc) error {
	return state.Update(ctx, k.KV, key, fn)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// Open connects the backend named by cfg.Backend. PostgreSQL connections are
// retried with backoff and the schema is migrated before returning.
func Open(ctx context.Context, cfg config.StoreConfig, retry common.RetryConfig, log *logger.Logger, tracer trace.Tracer) (*KV, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &KV{KV: memory.New(), Closer: nopCloser}, nil

	case config.BackendFile:
		return &KV{KV: file.New(cfg.Path), Closer: nopCloser}, nil

	case config.BackendRedis:
		kv := redis.New(redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix}, tracer)
		if err := common.ConnectWithRetry(ctx, log, "redis", retry, kv.Ping); err != nil {
			kv.Close()
			return nil, err
		}
		return &KV{KV: kv, Closer: kv}, nil

	case config.BackendPostgres:
		pool, err := openPool(ctx, cfg.PostgresDSN, retry, log)
		if err != nil {
			return nil, err
		}
		if err := storage.RunMigrations(pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &KV{KV: postgres.NewKVStore(pool, tracer), Closer: closerFunc(func() error { pool.Close(); return nil })}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func openPool(ctx context.Context, dsn string, retry common.RetryConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 10
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating db pool: %w", err)
	}

	if err := common.ConnectWithRetry(ctx, log, "postgres", retry, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
