package common

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/pkg/common/logger"
)

func TestRateLimiter_NilNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	assert.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiter_DisabledWhenRPSNotPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 100 {
		require.NoError(t, rl.Wait(context.Background()))
	}
}

func TestRateLimiter_CanceledContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestConnectWithRetry(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	cfg := RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}

	calls := 0
	err := ConnectWithRetry(context.Background(), log, "fake", cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_ContextCanceled(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ConnectWithRetry(ctx, log, "fake", DefaultRetryConfig, func(context.Context) error {
		return errors.New("down")
	})
	assert.Error(t, err)
}
