// Package reconnect retries a capture connection with exponential backoff.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMaxRetries is returned by Run when every attempt failed.
var ErrMaxRetries = errors.New("reconnect: max retries exceeded")

// Config contains configuration for exponential backoff reconnection.
type Config struct {
	MaxRetries    int           // Maximum number of reconnection attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default reconnection configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks reconnection attempts across Run calls.
type State struct {
	CurrentRetries int
	Reconnects     atomic.Uint32 // Total reconnection attempts
}

// Reset clears the retry streak after the stream is healthy again.
func (s *State) Reset() {
	s.CurrentRetries = 0
}

// ConnectFunc attempts to (re)establish the stream. It returns nil on a
// clean stop and an error when the stream failed and should be retried.
type ConnectFunc func(ctx context.Context) error

// Run calls connect until it returns nil, ctx is cancelled or the retry
// budget is exhausted.
//
// Backoff schedule with the default config:
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 4: 8s
//   - Attempt 5: 16s
//   - After 5 failures: stop
func Run(ctx context.Context, connect ConnectFunc, cfg Config, state *State, logger *logrus.Entry) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connect(ctx)
		if err == nil {
			state.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.CurrentRetries++
		state.Reconnects.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %w", ErrMaxRetries, cfg.MaxRetries, err)
		}

		delay := Backoff(state.CurrentRetries, cfg)
		logger.WithFields(logrus.Fields{
			"error":       err,
			"attempt":     state.CurrentRetries,
			"max_retries": cfg.MaxRetries,
			"delay":       delay,
		}).Warn("capture: stream failed, retrying")

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Backoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
