// Package mock provides a test double for the llm.Strategy interface.
//
// Use Strategy to return pre-canned completions without a live backend and
// to inspect the exact requests the pipeline built.
//
// Example:
//
//	s := &mock.Strategy{
//	    NameValue:      "test-llm",
//	    CompleteResult: &llm.Response{Content: "as you wish"},
//	}
//	resp, _ := s.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
)

// Ensure Strategy implements llm.Strategy at compile time.
var _ llm.Strategy = (*Strategy)(nil)

// Strategy is a configurable test double for [llm.Strategy].
type Strategy struct {
	mu sync.Mutex

	// NameValue is returned by Name. Empty defaults to "mock".
	NameValue string

	// CompleteResult is returned by Complete. When CompleteFunc is set it
	// takes precedence and may vary the response per request.
	CompleteResult *llm.Response
	CompleteFunc   func(ctx context.Context, req *llm.Request) (*llm.Response, error)
	CompleteErr    error

	requests []*llm.Request
}

// Name returns NameValue or "mock".
func (s *Strategy) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NameValue == "" {
		return "mock"
	}
	return s.NameValue
}

// Complete records the request and returns the configured response. A nil
// CompleteResult with no error yields an empty response rather than nil.
func (s *Strategy) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.CompleteFunc
	result := s.CompleteResult
	err := s.CompleteErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &llm.Response{}, nil
	}
	return result, nil
}

// Requests returns every request passed to Complete, in call order.
func (s *Strategy) Requests() []*llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns the number of Complete calls.
func (s *Strategy) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Reset clears all recorded requests. Thread-safe.
func (s *Strategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}
