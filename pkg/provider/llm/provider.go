// Package llm defines the provider strategy layer for chat completion
// backends.
//
// The request builder produces a vendor-neutral [Request]: an ordered list of
// system blocks followed by an ordered list of conversation turns. A
// [Strategy] maps that request onto one vendor's wire format (Gemini
// contents, Claude messages) and executes it; the [Registry] resolves which
// strategy serves a given provider name. Block and turn order is part of the
// contract: strategies must emit them in the order given.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when no strategy can serve a request,
// either because the named provider is unknown and no default is registered
// or because the backend rejected the configuration outright.
var ErrProviderUnavailable = errors.New("llm: provider unavailable")

// ErrEmptyResponse is returned when the backend answered without any text
// content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversation message in the neutral request form.
type Turn struct {
	Role Role
	Text string
}

// Request is the vendor-neutral completion request. System carries the
// ordered system blocks; Turns carries the ordered conversation, which must
// start with a user turn and alternate roles (the builder guarantees this
// with acknowledgment turns).
type Request struct {
	// Model overrides the strategy's configured model when non-empty.
	Model string

	// System is the ordered list of system prompt blocks. Strategies that
	// support prompt caching may attach cache markers to individual
	// blocks but must not reorder or merge them.
	System []string

	// Turns is the ordered conversation history ending with the turn that
	// drives the response.
	Turns []Turn

	// MaxTokens caps completion length. Zero means the strategy default.
	MaxTokens int

	// Temperature in [0, 2]. Zero means the strategy default.
	Temperature float64

	// Thinking requests extended reasoning on backends that support it.
	Thinking bool

	// ThinkingBudget caps reasoning tokens when Thinking is set. Zero
	// means the strategy default.
	ThinkingBudget int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between vendors for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the completed model reply.
type Response struct {
	// Content is the text of the reply.
	Content string

	// Thinking is the reasoning trace, when the backend emitted one.
	Thinking string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Strategy executes neutral requests against one vendor backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Strategy interface {
	// Name returns the provider name this strategy is registered under
	// (e.g. "gemini", "claude").
	Name() string

	// Complete sends the request and waits for the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}
