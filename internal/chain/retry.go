package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
)

// withRetries calls fn up to attempts times, sleeping delay between calls.
func withRetries[T any](ctx context.Context, name string, attempts int, delay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		logs.GetLogger().Warnf("Chain call failed, call: %s, attempt: %d/%d, error: %v", name, i, attempts, err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s interrupted, error: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts, error: %w", name, attempts, lastErr)
}
