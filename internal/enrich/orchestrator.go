package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verdandi-labs/reverie/internal/observe"
)

// Orchestrator runs the enrichment pass for one state.
//
// It executes in two phases: the turn-history and character-profile
// enrichers run first because later enrichers read the recent-turn window
// and the user name; everything else runs concurrently afterwards. Each
// enricher is best-effort: its error is logged and the pass continues.
// Cancellation is the only error that aborts the pass.
type Orchestrator struct {
	// Phase one. Either may be nil.
	turnHistory      Enricher
	characterProfile Enricher

	// Phase two, order-independent.
	rest []Enricher

	logger  *slog.Logger
	metrics *observe.Metrics
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the orchestrator's logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOrchestratorMetrics sets the metrics sink for per-enricher timings.
func WithOrchestratorMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an [Orchestrator]. turnHistory and
// characterProfile form the mandatory first phase; rest runs concurrently
// after both complete.
func NewOrchestrator(turnHistory, characterProfile Enricher, rest []Enricher, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		turnHistory:      turnHistory,
		characterProfile: characterProfile,
		rest:             rest,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enrich runs the full pass. The returned error is non-nil only for
// cancellation.
func (o *Orchestrator) Enrich(ctx context.Context, s *State) error {
	phase1 := make([]Enricher, 0, 2)
	if o.turnHistory != nil {
		phase1 = append(phase1, o.turnHistory)
	}
	if o.characterProfile != nil {
		phase1 = append(phase1, o.characterProfile)
	}
	if err := o.runPhase(ctx, s, phase1); err != nil {
		return err
	}
	return o.runPhase(ctx, s, o.rest)
}

func (o *Orchestrator) runPhase(ctx context.Context, s *State, enrichers []Enricher) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range enrichers {
		g.Go(func() error {
			o.runOne(gctx, s, e)
			// Individual failures never cancel siblings; only external
			// cancellation does.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) runOne(ctx context.Context, s *State, e Enricher) {
	start := time.Now()
	err := e.Enrich(ctx, s)
	if o.metrics != nil {
		o.metrics.RecordEnricher(ctx, e.Name(), time.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("enricher failed", "enricher", e.Name(), "error", err)
	}
}
