package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	t.Parallel()

	var attempts int32
	err := Do(context.Background(), DefaultConfig(), "test-op", func(_ context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestDoRetriesOnTransientError(t *testing.T) {
	t.Parallel()

	var attempts int32
	cfg := Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxElapsed: 5 * time.Second, MaxAttempts: 5}

	err := Do(context.Background(), cfg, "test-retry", func(_ context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("fatal")
	var attempts int32
	err := Do(context.Background(), DefaultConfig(), "test-permanent", func(_ context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	t.Parallel()

	var attempts int32
	cfg := Config{InitialDelay: 1 * time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxElapsed: time.Minute, MaxAttempts: 3}
	err := Do(context.Background(), cfg, "test-exhaust", func(_ context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("always fails")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxElapsed: time.Minute, MaxAttempts: 0}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, "test-cancel", func(_ context.Context) error {
		return errors.New("never succeeds")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled wrapped error, got %v", err)
	}
}

func TestReconnectPolicyDoublesUntilCapped(t *testing.T) {
	p := NewReconnectPolicy()

	delay, open := p.RecordFailure()
	if delay != 5*time.Second || open {
		t.Fatalf("first failure: delay=%v open=%v, want 5s/false", delay, open)
	}

	delay, _ = p.RecordFailure()
	if delay != 10*time.Second {
		t.Fatalf("second failure delay = %v, want 10s", delay)
	}

	// Keep failing until the delay caps at 5 minutes.
	var last time.Duration
	for i := 0; i < 10; i++ {
		last, _ = p.RecordFailure()
	}
	if last != 5*time.Minute {
		t.Fatalf("delay did not cap at 5m, got %v", last)
	}
}

func TestReconnectPolicyTripsCircuitAtTen(t *testing.T) {
	p := NewReconnectPolicy()

	var open bool
	for i := 0; i < 10; i++ {
		_, open = p.RecordFailure()
	}
	if !open {
		t.Fatal("expected circuit breaker open after 10 consecutive failures")
	}
}

func TestReconnectPolicyResetClearsState(t *testing.T) {
	p := NewReconnectPolicy()
	p.RecordFailure()
	p.RecordFailure()
	p.Reset()

	snap := p.Snapshot()
	if snap.Attempts != 0 {
		t.Fatalf("expected attempts reset to 0, got %d", snap.Attempts)
	}
	if snap.NextDelay != 5*time.Second {
		t.Fatalf("expected next delay reset to 5s, got %v", snap.NextDelay)
	}
}
