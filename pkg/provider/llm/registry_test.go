package llm_test

import (
	"errors"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/provider/llm/mock"
)

// TestRegistry_ResolveExact verifies a registered name resolves to its own
// strategy.
func TestRegistry_ResolveExact(t *testing.T) {
	r := llm.NewRegistry(nil)
	gemini := &mock.Strategy{NameValue: "gemini"}
	claude := &mock.Strategy{NameValue: "claude"}
	r.Register(gemini)
	r.Register(claude)

	s, err := r.Resolve("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "claude" {
		t.Errorf("resolved %q, want claude", s.Name())
	}
}

// TestRegistry_UnknownFallsBackToDefault verifies unknown names resolve to
// the configured default.
func TestRegistry_UnknownFallsBackToDefault(t *testing.T) {
	r := llm.NewRegistry(nil)
	r.Register(&mock.Strategy{NameValue: "gemini"})
	if err := r.SetDefault("gemini"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	s, err := r.Resolve("some-unknown-provider")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "gemini" {
		t.Errorf("resolved %q, want gemini", s.Name())
	}
}

// TestRegistry_UnknownWithoutDefault verifies the unavailable sentinel when
// no default exists.
func TestRegistry_UnknownWithoutDefault(t *testing.T) {
	r := llm.NewRegistry(nil)
	r.Register(&mock.Strategy{NameValue: "gemini"})

	_, err := r.Resolve("some-unknown-provider")
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

// TestRegistry_SetDefaultUnregistered verifies SetDefault rejects names that
// were never registered.
func TestRegistry_SetDefaultUnregistered(t *testing.T) {
	r := llm.NewRegistry(nil)
	if err := r.SetDefault("ghost"); !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

// TestRegistry_Names verifies sorted name listing.
func TestRegistry_Names(t *testing.T) {
	r := llm.NewRegistry(nil)
	r.Register(&mock.Strategy{NameValue: "gemini"})
	r.Register(&mock.Strategy{NameValue: "claude"})

	names := r.Names()
	if len(names) != 2 || names[0] != "claude" || names[1] != "gemini" {
		t.Errorf("Names() = %v, want [claude gemini]", names)
	}
}
