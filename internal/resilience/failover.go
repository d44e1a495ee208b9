package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned when every backend in a [Failover] fails
// or has an open circuit breaker. It wraps [llm.ErrProviderUnavailable] so
// callers can classify it with a single errors.Is check.
var ErrAllBackendsFailed = fmt.Errorf("%w: all backends failed", llm.ErrProviderUnavailable)

// backend pairs a completion strategy with its dedicated circuit breaker.
type backend struct {
	strategy llm.Strategy
	breaker  *CircuitBreaker
}

// Failover is an [llm.Strategy] that tries a primary backend first and falls
// through to fallbacks in registration order. Each backend has its own
// circuit breaker, so a backend that keeps failing is skipped without
// spending a request on it.
//
// Failover is safe for concurrent use after construction; AddFallback must
// not be called concurrently with Complete.
type Failover struct {
	name     string
	backends []backend
	cfg      BreakerConfig
	logger   *slog.Logger
}

var _ llm.Strategy = (*Failover)(nil)

// NewFailover creates a [Failover] with primary as the preferred backend.
// The breaker config applies to every backend; its Name field is overridden
// per backend with the strategy's own name.
func NewFailover(primary llm.Strategy, cfg BreakerConfig) *Failover {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	f := &Failover{
		name:   primary.Name(),
		cfg:    cfg,
		logger: cfg.Logger,
	}
	f.backends = append(f.backends, f.newBackend(primary))
	return f
}

func (f *Failover) newBackend(s llm.Strategy) backend {
	cbCfg := f.cfg
	cbCfg.Name = s.Name()
	return backend{strategy: s, breaker: NewCircuitBreaker(cbCfg)}
}

// AddFallback registers an additional backend. Fallbacks are tried in the
// order they are added, after the primary.
func (f *Failover) AddFallback(s llm.Strategy) {
	f.backends = append(f.backends, f.newBackend(s))
}

// Name returns the primary backend's name.
func (f *Failover) Name() string { return f.name }

// Complete sends the request to the first healthy backend and returns its
// response. Backends with open breakers are skipped. A cancelled context
// aborts the sweep immediately instead of burning the remaining fallbacks.
func (f *Failover) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]

		var resp *llm.Response
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = b.strategy.Complete(ctx, req)
			return callErr
		})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			f.logger.Debug("skipping backend, circuit open", "backend", b.strategy.Name())
		} else {
			f.logger.Warn("backend failed, trying next",
				"backend", b.strategy.Name(), "error", err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
