// Package pipeline drives one conversational turn end to end: locate the
// active session, enrich the state, build the request, dispatch it to the
// configured model, and persist the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/verdandi-labs/reverie/internal/enrich"
	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/internal/request"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// ErrNoActiveSession is returned when ProcessInput is called while the
// profile has no active session.
var ErrNoActiveSession = errors.New("no active session")

// DefaultCompletionTimeout bounds one model dispatch.
const DefaultCompletionTimeout = 5 * time.Minute

// oocPrefix marks an out-of-character request in the raw input.
const oocPrefix = "[ooc]"

// Stripper produces the terse projection of a completed exchange for the
// dialogue log. An empty result with a nil error means no projection.
type Stripper interface {
	Strip(ctx context.Context, input, response string) (string, error)
}

// Defaults are the model parameters applied to every outgoing request.
type Defaults struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	Thinking       bool
	ThinkingBudget int
}

// Pipeline processes user inputs for one profile.
type Pipeline struct {
	sessions store.SessionStore
	data     store.ContextDataStore
	messages store.SystemMessageStore
	profiles store.ProfileStore

	builder  *request.Builder
	registry *llm.Registry

	// mu guards the hot-reloadable members: the provider name and the
	// enrichment orchestrator.
	mu           sync.RWMutex
	orchestrator *enrich.Orchestrator
	providerName string

	defaults          Defaults
	completionTimeout time.Duration
	stripper          Stripper

	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithCompletionTimeout overrides the per-dispatch timeout.
func WithCompletionTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.completionTimeout = d
		}
	}
}

// WithDefaults sets the model parameters for outgoing requests.
func WithDefaults(d Defaults) Option {
	return func(p *Pipeline) { p.defaults = d }
}

// WithStripper enables the post-turn stripping pass.
func WithStripper(s Stripper) Option {
	return func(p *Pipeline) { p.stripper = s }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a [Pipeline]. providerName selects the completion strategy
// from the registry; resolution falls back to the registry default.
func New(
	sessions store.SessionStore,
	data store.ContextDataStore,
	messages store.SystemMessageStore,
	profiles store.ProfileStore,
	orchestrator *enrich.Orchestrator,
	builder *request.Builder,
	registry *llm.Registry,
	providerName string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		sessions:          sessions,
		data:              data,
		messages:          messages,
		profiles:          profiles,
		orchestrator:      orchestrator,
		builder:           builder,
		registry:          registry,
		providerName:      providerName,
		completionTimeout: DefaultCompletionTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessInput runs one turn. It surfaces [ErrNoActiveSession],
// [llm.ErrProviderUnavailable], and cancellation; every other failure is
// captured into the returned turn's response with Accepted left false.
func (p *Pipeline) ProcessInput(ctx context.Context, input string) (*model.Turn, error) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveRuns.Add(ctx, 1)
		defer p.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)
		defer func() {
			p.metrics.PipelineDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
		}()
	}

	// The strategy must resolve before any persistent work happens.
	strategy, err := p.registry.Resolve(p.provider())
	if err != nil {
		return nil, err
	}

	session, err := p.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: locate session: %w", err)
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}

	turn, err := p.sessions.CreateTurn(ctx, session.ID, input)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create turn: %w", err)
	}

	state, err := p.buildState(ctx, session, turn)
	if err != nil {
		return nil, err
	}

	if err := p.orch().Enrich(ctx, state); err != nil {
		// The orchestrator only errors on cancellation.
		return nil, err
	}

	req, err := p.builder.Build(ctx, state)
	if err != nil {
		p.failTurn(ctx, turn, err)
		return turn, nil
	}
	p.applyDefaults(req)

	p.dispatch(ctx, strategy, req, turn)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if turn.Accepted && p.stripper != nil {
		stripped, err := p.stripper.Strip(ctx, turn.Input, turn.Response)
		if err != nil {
			p.logger.Warn("pipeline: strip turn", "turn", turn.ID, "error", err)
		} else {
			turn.StrippedTurn = stripped
		}
	}

	if err := p.sessions.CompleteTurn(ctx, turn); err != nil {
		p.logger.Warn("pipeline: persist turn", "turn", turn.ID, "error", err)
	}
	p.postTurn(ctx, state, turn)

	if p.metrics != nil {
		status := "failed"
		if turn.Accepted {
			status = "accepted"
		}
		p.metrics.RecordTurn(ctx, status)
	}
	return turn, nil
}

// buildState assembles the pre-enrichment state: session, turn, persona,
// and the out-of-character framing derived from the input prefix.
func (p *Pipeline) buildState(ctx context.Context, session *model.Session, turn *model.Turn) (*enrich.State, error) {
	personaName := ""
	if profile, err := p.profiles.ActiveProfile(ctx); err == nil && profile != nil {
		personaName = profile.PersonaName
	} else if err != nil {
		p.logger.Warn("pipeline: load active profile", "error", err)
	}

	state := enrich.NewState(session, turn, personaName)

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(turn.Input)), oocPrefix) {
		state.IsOOCRequest = true
		trimmed := strings.TrimSpace(turn.Input)
		turn.Input = strings.TrimSpace(trimmed[len(oocPrefix):])
	}

	persona, err := p.messages.ActivePersona(ctx)
	if err != nil {
		p.logger.Warn("pipeline: load persona", "error", err)
	} else {
		state.Persona = persona
	}
	return state, nil
}

func (p *Pipeline) applyDefaults(req *llm.Request) {
	req.Model = p.defaults.Model
	req.MaxTokens = p.defaults.MaxTokens
	req.Temperature = p.defaults.Temperature
	req.Thinking = p.defaults.Thinking
	req.ThinkingBudget = p.defaults.ThinkingBudget
}

// dispatch sends the request and folds the outcome into the turn.
func (p *Pipeline) dispatch(ctx context.Context, strategy llm.Strategy, req *llm.Request, turn *model.Turn) {
	callCtx, cancel := context.WithTimeout(ctx, p.completionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := strategy.Complete(callCtx, req)
	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordProviderRequest(ctx, strategy.Name(), "completion", status)
	}
	if err != nil {
		if ctx.Err() == nil {
			p.failTurn(ctx, turn, err)
		}
		return
	}

	turn.Response = resp.Content
	turn.Accepted = true
}

// failTurn captures an error into the turn per the propagation policy.
func (p *Pipeline) failTurn(ctx context.Context, turn *model.Turn, err error) {
	p.logger.Error("pipeline: turn failed", "turn", turn.ID, "error", err)
	turn.Response = err.Error()
	turn.Accepted = false
	if p.metrics != nil {
		p.metrics.RecordProviderError(ctx, p.provider(), "completion")
	}
}

func (p *Pipeline) provider() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.providerName
}

func (p *Pipeline) orch() *enrich.Orchestrator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orchestrator
}

// SetProvider switches the completion backend for subsequent turns. Turns
// already in flight keep the strategy they resolved.
func (p *Pipeline) SetProvider(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providerName = name
}

// SwapOrchestrator replaces the enrichment stack for subsequent turns. Used
// by config hot-reload when context tuning changes.
func (p *Pipeline) SwapOrchestrator(o *enrich.Orchestrator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orchestrator = o
}

// postTurn runs the best-effort bookkeeping after a turn: one-shot manual
// flags reset and usage counters stamped for everything that made it into
// the prompt.
func (p *Pipeline) postTurn(ctx context.Context, state *enrich.State, turn *model.Turn) {
	if err := p.data.ProcessPostTurn(ctx); err != nil {
		p.logger.Warn("pipeline: post-turn processing", "error", err)
	}
	if ids := state.AllContextDataIDs(); len(ids) > 0 {
		if err := p.data.RecordUsage(ctx, turn.ID, ids); err != nil {
			p.logger.Warn("pipeline: record usage", "error", err)
		}
	}
}
