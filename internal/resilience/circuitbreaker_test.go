package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingBreaker(t *testing.T, threshold int, coolDown time.Duration) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: threshold,
		CoolDown:         coolDown,
	})
}

// TestBreaker_OpensAfterThreshold verifies the breaker opens after the
// configured number of consecutive failures.
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb := failingBreaker(t, 3, time.Hour)

	fail := func(context.Context) error { return errBoom }
	for i := 0; i < 3; i++ {
		if err := cb.Do(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want errBoom", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}
	if err := cb.Do(ctx, fail); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker returned %v, want ErrCircuitOpen", err)
	}
}

// TestBreaker_SuccessResetsCounter verifies interleaved successes keep the
// breaker closed.
func TestBreaker_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	cb := failingBreaker(t, 2, time.Hour)

	cb.Do(ctx, func(context.Context) error { return errBoom })
	cb.Do(ctx, func(context.Context) error { return nil })
	cb.Do(ctx, func(context.Context) error { return errBoom })

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

// TestBreaker_CancellationIsNeutral verifies context errors neither trip nor
// reset the breaker.
func TestBreaker_CancellationIsNeutral(t *testing.T) {
	ctx := context.Background()
	cb := failingBreaker(t, 2, time.Hour)

	cb.Do(ctx, func(context.Context) error { return errBoom })
	for i := 0; i < 5; i++ {
		cb.Do(ctx, func(context.Context) error { return context.Canceled })
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after cancellations", got)
	}

	// One real failure on top of the earlier one must still open it.
	cb.Do(ctx, func(context.Context) error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}
}

// TestBreaker_HalfOpenRecovery verifies the breaker closes after enough
// successful probes and re-opens on a probe failure.
func TestBreaker_HalfOpenRecovery(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		CoolDown:         time.Millisecond,
		ProbeBudget:      2,
	})

	cb.Do(ctx, func(context.Context) error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(5 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after cool-down = %v, want half-open", got)
	}

	ok := func(context.Context) error { return nil }
	if err := cb.Do(ctx, ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := cb.Do(ctx, ok); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after probes = %v, want closed", got)
	}
}

// TestBreaker_ProbeFailureReopens verifies any half-open failure re-opens
// the breaker immediately.
func TestBreaker_ProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		CoolDown:         time.Millisecond,
	})

	cb.Do(ctx, func(context.Context) error { return errBoom })
	time.Sleep(5 * time.Millisecond)

	cb.Do(ctx, func(context.Context) error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want open after probe failure", got)
	}
}

// TestBreaker_Reset verifies a manual reset restores the closed state.
func TestBreaker_Reset(t *testing.T) {
	ctx := context.Background()
	cb := failingBreaker(t, 1, time.Hour)

	cb.Do(ctx, func(context.Context) error { return errBoom })
	cb.Reset()

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after reset", got)
	}
	if err := cb.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}
