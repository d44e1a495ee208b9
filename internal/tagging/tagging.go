// Package tagging assigns curation metadata to context-data records: a tag
// set, a relevance score, and a short reason, produced by a model pass.
package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// TaggerMessageName is the technical system message holding the tagging
// instruction. Without it a built-in instruction is used.
const TaggerMessageName = "tag generator"

// defaultInstruction is used when the profile carries no tagging message.
const defaultInstruction = `Assign curation metadata to the given record. Respond with a JSON object:
{"tags": ["..."], "relevanceScore": 0-100, "relevanceReason": "one sentence"}`

// DefaultParallelism bounds concurrent tagging model calls.
const DefaultParallelism = 5

// maxTagTokens bounds each tagging completion.
const maxTagTokens = 512

// BulkResult summarises one bulk tagging run.
type BulkResult struct {
	SuccessCount   int
	FailedCount    int
	Errors         []string
	ProcessedItems []int64
}

// annotation is the JSON shape the model is asked to produce.
type annotation struct {
	Tags            []string `json:"tags"`
	RelevanceScore  int      `json:"relevanceScore"`
	RelevanceReason string   `json:"relevanceReason"`
}

// Tagger runs the tagging pass.
type Tagger struct {
	strategy    llm.Strategy
	data        store.ContextDataStore
	messages    store.SystemMessageStore
	parallelism int64
	logger      *slog.Logger
}

// Option configures a [Tagger].
type Option func(*Tagger)

// WithParallelism bounds concurrent model calls. Non-positive values keep
// the default.
func WithParallelism(n int) Option {
	return func(t *Tagger) {
		if n > 0 {
			t.parallelism = int64(n)
		}
	}
}

// WithLogger sets the tagger's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tagger) { t.logger = l }
}

// New creates a [Tagger].
func New(strategy llm.Strategy, data store.ContextDataStore, messages store.SystemMessageStore, opts ...Option) *Tagger {
	t := &Tagger{
		strategy:    strategy,
		data:        data,
		messages:    messages,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TagAll tags every given record, bounded by the configured parallelism.
// Per-record failures are collected into the result; the error return is
// reserved for cancellation.
func (t *Tagger) TagAll(ctx context.Context, items []model.ContextData) (*BulkResult, error) {
	result := &BulkResult{
		Errors:         []string{},
		ProcessedItems: []int64{},
	}
	if len(items) == 0 {
		return result, nil
	}

	instruction := t.instruction(ctx)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(t.parallelism)
	)
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(d model.ContextData) {
			defer wg.Done()
			defer sem.Release(1)

			err := t.tagOne(ctx, instruction, &d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedCount++
				result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", d.ID, err))
				return
			}
			result.SuccessCount++
			result.ProcessedItems = append(result.ProcessedItems, d.ID)
		}(items[i])
	}
	wg.Wait()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// instruction loads the tagging system message, falling back to the
// built-in text.
func (t *Tagger) instruction(ctx context.Context) string {
	msg, err := t.messages.TechnicalByName(ctx, TaggerMessageName)
	if err != nil {
		t.logger.Warn("tagging: load instruction", "error", err)
		return defaultInstruction
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return defaultInstruction
	}
	return msg.Content
}

// tagOne runs the model pass for one record and persists the result.
func (t *Tagger) tagOne(ctx context.Context, instruction string, d *model.ContextData) error {
	var user strings.Builder
	fmt.Fprintf(&user, "Type: %s\nName: %s\n\n%s", d.Type, d.Name, d.DisplayText())

	resp, err := t.strategy.Complete(ctx, &llm.Request{
		System:    []string{instruction},
		Turns:     []llm.Turn{{Role: llm.RoleUser, Text: user.String()}},
		MaxTokens: maxTagTokens,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}

	ann, err := parseAnnotation(resp.Content)
	if err != nil {
		return err
	}
	if err := t.data.SetTags(ctx, d.ID, ann.Tags, ann.RelevanceScore, ann.RelevanceReason); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// parseAnnotation extracts the outermost JSON object from a completion and
// decodes it. Out-of-range scores are clamped into [0, 100].
func parseAnnotation(completion string) (*annotation, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var ann annotation
	if err := json.Unmarshal([]byte(completion[start:end+1]), &ann); err != nil {
		return nil, fmt.Errorf("decode annotation: %w", err)
	}
	if ann.RelevanceScore < 0 {
		ann.RelevanceScore = 0
	}
	if ann.RelevanceScore > 100 {
		ann.RelevanceScore = 100
	}
	if ann.Tags == nil {
		ann.Tags = []string{}
	}
	return &ann, nil
}
