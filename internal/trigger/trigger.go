// Package trigger evaluates keyword rules against the recent conversation
// window.
//
// A trigger-available context record carries a comma-separated keyword list,
// a lookback depth, and a minimum match count. The evaluator scans the
// newest accepted turns plus the current input and returns every record
// whose rule fires.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
)

const (
	// defaultLookback is the floor for the recent-turn fetch window. A
	// candidate's own lookback is honored exactly, including zero.
	defaultLookback = 3

	// defaultMinMatches is the firing threshold for candidates with no
	// explicit minimum.
	defaultMinMatches = 1
)

// Evaluator runs the keyword-trigger pass for one profile.
type Evaluator struct {
	data     store.ContextDataStore
	sessions store.SessionStore

	// additionalWords is an always-scanned word bag appended to every
	// candidate's scan text.
	additionalWords []string

	// mu guards patterns, the per-keyword compiled regexp cache. The
	// evaluator runs on every turn; keywords rarely change.
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp

	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithAdditionalWords appends a fixed word bag to every scan text.
func WithAdditionalWords(words []string) Option {
	return func(e *Evaluator) { e.additionalWords = words }
}

// WithLogger sets the evaluator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMetrics sets the metrics sink for trigger-fire counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an [Evaluator] over the given stores.
func NewEvaluator(data store.ContextDataStore, sessions store.SessionStore, opts ...Option) *Evaluator {
	e := &Evaluator{
		data:     data,
		sessions: sessions,
		patterns: make(map[string]*regexp.Regexp),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the context records whose keyword rules fire against the
// session's recent turns and the current input, in catalog order. Firing
// records have their usage and trigger counters updated before returning.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID int64, input string) ([]model.ContextData, error) {
	candidates, err := e.data.GetTriggerCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("trigger: load candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []model.ContextData{}, nil
	}

	maxLookback := defaultLookback
	for _, c := range candidates {
		if c.TriggerLookbackTurns > maxLookback {
			maxLookback = c.TriggerLookbackTurns
		}
	}

	turns, err := e.sessions.RecentAcceptedTurns(ctx, sessionID, maxLookback)
	if err != nil {
		return nil, fmt.Errorf("trigger: load recent turns: %w", err)
	}

	// Turns arrive newest-first; scan texts only differ per lookback depth,
	// so cache them.
	scanByDepth := make(map[int]string)
	scanText := func(depth int) string {
		// Lookback zero is meaningful: only the current input and the
		// additional-words bag are scanned.
		if depth < 0 {
			depth = 0
		}
		if depth > len(turns) {
			depth = len(turns)
		}
		if s, ok := scanByDepth[depth]; ok {
			return s
		}
		var b strings.Builder
		for _, t := range turns[:depth] {
			b.WriteString(t.Input)
			b.WriteString("\n")
			b.WriteString(t.Response)
			b.WriteString("\n")
		}
		b.WriteString(input)
		for _, w := range e.additionalWords {
			b.WriteString("\n")
			b.WriteString(w)
		}
		s := strings.ToLower(b.String())
		scanByDepth[depth] = s
		return s
	}

	fired := make([]model.ContextData, 0, len(candidates))
	firedIDs := make([]int64, 0, len(candidates))

	for _, c := range candidates {
		keywords := c.KeywordList()
		if len(keywords) == 0 {
			continue
		}
		text := scanText(c.TriggerLookbackTurns)

		// Each keyword counts at most once no matter how often it occurs.
		matches := 0
		for _, kw := range keywords {
			if re := e.keywordPattern(kw); re != nil && re.MatchString(text) {
				matches++
			}
		}

		threshold := c.TriggerMinMatchCount
		if threshold <= 0 {
			threshold = defaultMinMatches
		}
		if matches >= threshold {
			fired = append(fired, c)
			firedIDs = append(firedIDs, c.ID)
			e.logger.Debug("trigger fired",
				"id", c.ID,
				"name", c.Name,
				"matches", matches,
				"threshold", threshold)
		}
	}

	if len(firedIDs) > 0 {
		if err := e.data.RecordTriggerFired(ctx, firedIDs); err != nil {
			e.logger.Warn("trigger: record fired counters", "error", err)
		}
		if e.metrics != nil {
			e.metrics.TriggerFires.Add(ctx, int64(len(firedIDs)))
		}
	}

	return fired, nil
}

// keywordPattern returns the word-boundary regexp for kw, compiling it at
// most once per keyword. Keywords are already lower-cased.
func (e *Evaluator) keywordPattern(kw string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.patterns[kw]; ok {
		return re
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	if err != nil {
		re = nil
	}
	e.patterns[kw] = re
	return re
}
