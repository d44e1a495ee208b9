// Package querytransform rewrites the raw user input into a standalone
// retrieval query before semantic search.
//
// The rewrite instruction lives in the profile's "quote query transformer"
// technical system message. When that message is missing or the model call
// fails, the raw input is used unchanged; retrieval quality degrades but the
// search still runs.
package querytransform

import (
	"context"
	"log/slog"
	"strings"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// TransformerMessageName is the technical system message holding the rewrite
// instruction.
const TransformerMessageName = "quote query transformer"

// maxQueryTokens bounds the rewrite completion. Retrieval queries are short;
// anything longer is the model rambling.
const maxQueryTokens = 256

// Transformer produces retrieval queries from conversational input.
type Transformer struct {
	strategy llm.Strategy
	messages store.SystemMessageStore
	logger   *slog.Logger
}

// New creates a [Transformer]. A nil logger defaults to [slog.Default].
func New(strategy llm.Strategy, messages store.SystemMessageStore, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		strategy: strategy,
		messages: messages,
		logger:   logger,
	}
}

// Transform rewrites input into a standalone search query, given a short
// snippet of preceding conversation for reference resolution. Every failure
// mode returns the raw input: no transformer message, model errors, or an
// empty completion.
func (t *Transformer) Transform(ctx context.Context, input, snippet string) (string, error) {
	msg, err := t.messages.TechnicalByName(ctx, TransformerMessageName)
	if err != nil {
		t.logger.Warn("query transform: load instruction", "error", err)
		return input, nil
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return input, nil
	}

	var user strings.Builder
	if snippet != "" {
		user.WriteString("Previous context:\n")
		user.WriteString(snippet)
		user.WriteString("\n\n")
	}
	user.WriteString("Input:\n")
	user.WriteString(input)

	resp, err := t.strategy.Complete(ctx, &llm.Request{
		System:    []string{msg.Content},
		Turns:     []llm.Turn{{Role: llm.RoleUser, Text: user.String()}},
		MaxTokens: maxQueryTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn("query transform: completion failed, using raw input", "error", err)
		return input, nil
	}

	query := strings.TrimSpace(resp.Content)
	if query == "" {
		return input, nil
	}
	return query, nil
}
