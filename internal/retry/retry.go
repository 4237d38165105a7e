package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds polling configuration
type Config struct {
	Interval time.Duration // Fixed delay between attempts
	Timeout  time.Duration // Ceiling for the whole wait
}

// Poll executes fn at fixed intervals until it succeeds, the timeout
// ceiling is exceeded, or the context is cancelled. The wait between
// attempts is a cooperative sleep, not a spin.
func Poll(ctx context.Context, config Config, fn func() error) error {
	deadline := time.Now().Add(config.Timeout)
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if time.Now().Add(config.Interval).After(deadline) {
			return fmt.Errorf("gave up after %v: %w", config.Timeout, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		case <-time.After(config.Interval):
		}
	}
}
