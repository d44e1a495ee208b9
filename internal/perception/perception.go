// Package perception runs structured-annotation passes over the current
// user input.
//
// Each active perception system message drives one model call whose
// completion is expected to contain a JSON array of {property, explanation}
// records. Calls run in parallel under a counting semaphore; one failing
// pass never poisons the others.
package perception

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// DefaultParallelism bounds concurrent perception model calls.
const DefaultParallelism = 5

// maxPerceptionTokens bounds each annotation completion.
const maxPerceptionTokens = 1024

// Record is one structured annotation, e.g.
// {"property": "exploration.desire:true", "explanation": "…"}.
type Record struct {
	Property    string `json:"property"`
	Explanation string `json:"explanation"`
}

// Analyzer fans the current input out to every active perception message.
type Analyzer struct {
	strategy    llm.Strategy
	messages    store.SystemMessageStore
	parallelism int64
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithParallelism bounds concurrent model calls. Non-positive values keep
// the default.
func WithParallelism(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.parallelism = int64(n)
		}
	}
}

// WithLogger sets the analyzer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an [Analyzer].
func New(strategy llm.Strategy, messages store.SystemMessageStore, opts ...Option) *Analyzer {
	a := &Analyzer{
		strategy:    strategy,
		messages:    messages,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs one model call per active perception message and collates
// the parsed records, grouped in message order. Empty input yields an empty
// result without any calls. Per-message failures are logged and contribute
// nothing; cancellation aborts the whole pass.
func (a *Analyzer) Analyze(ctx context.Context, previousResponse, input string) ([]Record, error) {
	if strings.TrimSpace(input) == "" {
		return []Record{}, nil
	}

	msgs, err := a.messages.ActivePerceptions(ctx)
	if err != nil {
		a.logger.Warn("perception: load messages", "error", err)
		return []Record{}, nil
	}
	if len(msgs) == 0 {
		return []Record{}, nil
	}

	userText := buildUserText(previousResponse, input)

	sem := semaphore.NewWeighted(a.parallelism)
	var wg sync.WaitGroup
	perMessage := make([][]Record, len(msgs))

	for i := range msgs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, msg model.SystemMessage) {
			defer wg.Done()
			defer sem.Release(1)
			perMessage[i] = a.runOne(ctx, &msg, userText)
		}(i, msgs[i])
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	records := []Record{}
	for _, rs := range perMessage {
		records = append(records, rs...)
	}
	return records, nil
}

// runOne executes a single perception pass. All failures degrade to an
// empty contribution.
func (a *Analyzer) runOne(ctx context.Context, msg *model.SystemMessage, userText string) []Record {
	start := time.Now()
	resp, err := a.strategy.Complete(ctx, &llm.Request{
		System:    []string{msg.Content},
		Turns:     []llm.Turn{{Role: llm.RoleUser, Text: userText}},
		MaxTokens: maxPerceptionTokens,
	})
	if a.metrics != nil {
		a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("perception pass failed",
				"message", msg.Name, "error", err)
		}
		return nil
	}

	records := ParseRecords(resp.Content)
	if len(records) == 0 && strings.TrimSpace(resp.Content) != "" {
		a.logger.Debug("perception pass yielded no parseable records",
			"message", msg.Name)
	}
	return records
}

func buildUserText(previousResponse, input string) string {
	var b strings.Builder
	if previousResponse != "" {
		b.WriteString("Previous response:\n")
		b.WriteString(previousResponse)
		b.WriteString("\n\n")
	}
	b.WriteString("Current input:\n")
	b.WriteString(input)
	return b.String()
}

// ParseRecords extracts the outermost JSON array from a completion and
// parses it. Items that fail to decode or lack a property are skipped; a
// missing or malformed array yields nil.
func ParseRecords(completion string) []Record {
	start := strings.Index(completion, "[")
	end := strings.LastIndex(completion, "]")
	if start < 0 || end <= start {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(completion[start:end+1]), &items); err != nil {
		return nil
	}

	records := make([]Record, 0, len(items))
	for _, raw := range items {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if strings.TrimSpace(r.Property) == "" {
			continue
		}
		records = append(records, r)
	}
	return records
}
