package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	llmmock "github.com/verdandi-labs/reverie/pkg/provider/llm/mock"
)

func newRequest() *llm.Request {
	return &llm.Request{
		Turns: []llm.Turn{{Role: llm.RoleUser, Text: "hello"}},
	}
}

// TestFailover_PrimaryFirst verifies the primary serves requests while
// healthy and fallbacks are never consulted.
func TestFailover_PrimaryFirst(t *testing.T) {
	primary := &llmmock.Strategy{
		NameValue:      "primary",
		CompleteResult: &llm.Response{Content: "from primary"},
	}
	fallback := &llmmock.Strategy{NameValue: "fallback"}

	f := NewFailover(primary, BreakerConfig{})
	f.AddFallback(fallback)

	resp, err := f.Complete(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want from primary", resp.Content)
	}
	if fallback.CallCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.CallCount())
	}
}

// TestFailover_FallsThrough verifies a failing primary hands the request to
// the next backend.
func TestFailover_FallsThrough(t *testing.T) {
	primary := &llmmock.Strategy{
		NameValue:   "primary",
		CompleteErr: errors.New("primary down"),
	}
	fallback := &llmmock.Strategy{
		NameValue:      "fallback",
		CompleteResult: &llm.Response{Content: "from fallback"},
	}

	f := NewFailover(primary, BreakerConfig{})
	f.AddFallback(fallback)

	resp, err := f.Complete(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from fallback" {
		t.Errorf("content = %q, want from fallback", resp.Content)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
}

// TestFailover_AllFail verifies the error wraps llm.ErrProviderUnavailable
// when every backend fails.
func TestFailover_AllFail(t *testing.T) {
	primary := &llmmock.Strategy{NameValue: "primary", CompleteErr: errors.New("down")}
	fallback := &llmmock.Strategy{NameValue: "fallback", CompleteErr: errors.New("also down")}

	f := NewFailover(primary, BreakerConfig{})
	f.AddFallback(fallback)

	_, err := f.Complete(context.Background(), newRequest())
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("error = %v, want ErrAllBackendsFailed", err)
	}
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Errorf("error = %v, want wrapped llm.ErrProviderUnavailable", err)
	}
}

// TestFailover_SkipsOpenBreaker verifies a tripped primary is skipped
// without spending a request on it.
func TestFailover_SkipsOpenBreaker(t *testing.T) {
	primary := &llmmock.Strategy{NameValue: "primary", CompleteErr: errors.New("down")}
	fallback := &llmmock.Strategy{
		NameValue:      "fallback",
		CompleteResult: &llm.Response{Content: "ok"},
	}

	f := NewFailover(primary, BreakerConfig{
		FailureThreshold: 2,
		CoolDown:         time.Hour,
	})
	f.AddFallback(fallback)

	ctx := context.Background()
	req := newRequest()
	for i := 0; i < 3; i++ {
		if _, err := f.Complete(ctx, req); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}

	// Two failures trip the primary's breaker; the third sweep must not
	// touch it.
	if got := primary.CallCount(); got != 2 {
		t.Errorf("primary called %d times, want 2", got)
	}
	if got := fallback.CallCount(); got != 3 {
		t.Errorf("fallback called %d times, want 3", got)
	}
}

// TestFailover_CancellationAborts verifies a cancelled context stops the
// sweep instead of trying fallbacks.
func TestFailover_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &llmmock.Strategy{
		NameValue: "primary",
		CompleteFunc: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	fallback := &llmmock.Strategy{
		NameValue:      "fallback",
		CompleteResult: &llm.Response{Content: "ok"},
	}

	f := NewFailover(primary, BreakerConfig{})
	f.AddFallback(fallback)

	_, err := f.Complete(ctx, newRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fallback.CallCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.CallCount())
	}
}

// TestFailover_Name verifies the group reports the primary's name.
func TestFailover_Name(t *testing.T) {
	f := NewFailover(&llmmock.Strategy{NameValue: "primary"}, BreakerConfig{})
	if got := f.Name(); got != "primary" {
		t.Errorf("Name() = %q, want primary", got)
	}
}
