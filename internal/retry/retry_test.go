package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 30, Constant(time.Hour), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() err=%v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var seen []int
	err := Do(context.Background(), 5, Constant(time.Millisecond), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() err=%v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("attempts = %v, want [1 2 3]", seen)
	}
}

func TestDoExhausts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), 30, Constant(0), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped last error", err)
	}
	if calls != 30 {
		t.Fatalf("calls = %d, want exactly 30", calls)
	}
}

func TestDoCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, 30, Constant(time.Hour), func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Do did not return after cancel")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoCancelledInsideAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 30, Constant(0), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRejectsZeroAttempts(t *testing.T) {
	err := Do(context.Background(), 0, Constant(0), func(ctx context.Context, attempt int) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}
