// Package strip produces the terse action/dialogue projection of a
// completed turn. The projection feeds the dialogue log, where older turns
// appear in compressed form.
package strip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// StripperMessageName is the technical message holding the stripping
// instructions. Without it the pass is a no-op.
const StripperMessageName = "turn stripper instructions"

const maxStripTokens = 1024

// Stripper rewrites a turn into its stripped projection with one model call.
type Stripper struct {
	strategy llm.Strategy
	messages store.SystemMessageStore
	logger   *slog.Logger
}

// Option configures a [Stripper].
type Option func(*Stripper)

// WithLogger sets the stripper's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stripper) { s.logger = l }
}

// New creates a Stripper.
func New(strategy llm.Strategy, messages store.SystemMessageStore, opts ...Option) *Stripper {
	s := &Stripper{
		strategy: strategy,
		messages: messages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strip returns the stripped projection of one exchange. It returns "" with
// a nil error when no instruction message is configured or the model output
// is blank; callers fall back to the raw turn text in that case.
func (s *Stripper) Strip(ctx context.Context, input, response string) (string, error) {
	msg, err := s.messages.TechnicalByName(ctx, StripperMessageName)
	if err != nil {
		return "", fmt.Errorf("strip: load instructions: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", nil
	}

	req := &llm.Request{
		System:    []string{msg.Content},
		MaxTokens: maxStripTokens,
		Turns: []llm.Turn{{
			Role: llm.RoleUser,
			Text: "Input:\n" + input + "\n\nResponse:\n" + response,
		}},
	}

	resp, err := s.strategy.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("strip: completion: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
