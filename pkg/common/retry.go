package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ahrav/inspectra/pkg/common/logger"
)

// RetryConfig bounds ConnectWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig retries for up to five minutes, starting at five seconds.
var DefaultRetryConfig = RetryConfig{
	InitialInterval: 5 * time.Second,
	MaxElapsedTime:  5 * time.Minute,
}

// ConnectWithRetry runs connect with exponential backoff until it succeeds,
// the backoff budget is exhausted, or ctx is canceled. It is meant for
// infrastructure dependencies (brokers, databases) during process startup,
// never for user-initiated requests.
func ConnectWithRetry(ctx context.Context, log *logger.Logger, name string, cfg RetryConfig, connect func(ctx context.Context) error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		if err := connect(ctx); err != nil {
			log.Warn(ctx, "connect failed, will retry", "dependency", name, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("failed to connect to %s after %d attempts: %w", name, attempt, err)
	}

	return nil
}
