// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped by the error Do returns when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Strategy yields the wait after the given failed attempt (1-based).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same duration after every failed attempt.
type Constant time.Duration

func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Do calls fn until it succeeds, attempts run out, or ctx is done.
// Attempts run strictly one after another; the first runs immediately and
// no delay follows the last. When ctx ends, ctx.Err() is returned.
func Do(ctx context.Context, attempts int, delay Strategy, fn func(ctx context.Context, attempt int) error) error {
	if attempts <= 0 {
		return fmt.Errorf("retry: attempts must be > 0, got %d", attempts)
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(ctx, attempt); last == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		t := time.NewTimer(delay.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
