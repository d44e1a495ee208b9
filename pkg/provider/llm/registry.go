package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry maps provider names to strategies and resolves requests for
// unknown names to a configured default.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	strategies  map[string]Strategy
	defaultName string
	logger      *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger falls back to
// [slog.Default].
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		strategies: make(map[string]Strategy),
		logger:     logger,
	}
}

// Register adds a strategy under its own name. Registering a second strategy
// with the same name replaces the first.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// SetDefault names the strategy used for unknown provider names. The
// strategy must already be registered.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[name]; !ok {
		return fmt.Errorf("llm registry: default %q not registered: %w", name, ErrProviderUnavailable)
	}
	r.defaultName = name
	return nil
}

// Resolve returns the strategy for name. Unknown names fall back to the
// default strategy with a warning; with no default configured the error
// wraps [ErrProviderUnavailable].
func (r *Registry) Resolve(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	if r.defaultName != "" {
		r.logger.Warn("unknown llm provider, using default",
			"requested", name,
			"default", r.defaultName)
		return r.strategies[r.defaultName], nil
	}
	return nil, fmt.Errorf("llm registry: no strategy for %q and no default: %w", name, ErrProviderUnavailable)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
