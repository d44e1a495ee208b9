// Package claude implements the llm.Strategy interface on the Anthropic
// Messages API via the official anthropic-sdk-go.
//
// System blocks map to the system array of text blocks; blocks long enough
// to be worth caching get an ephemeral cache_control marker. Conversation
// turns map to user/assistant messages. Block and turn order is preserved
// exactly.
package claude

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
)

// DefaultModel is used when neither the strategy nor the request names one.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultMaxTokens applies when the request leaves MaxTokens at zero; the
// Messages API requires an explicit cap.
const DefaultMaxTokens = 4096

// cacheMinChars is the minimum system block length that earns a
// cache_control marker. Shorter blocks cost more to cache than to resend.
const cacheMinChars = 1024

// minThinkingBudget is the smallest budget the Messages API accepts.
const minThinkingBudget = 1024

// Ensure Strategy implements the llm.Strategy interface.
var _ llm.Strategy = (*Strategy)(nil)

// Strategy executes completion requests against the Anthropic Messages API.
type Strategy struct {
	client   sdk.Client
	model    string
	cacheMin int
}

// Option is a functional option for Strategy.
type Option func(*Strategy)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(s *Strategy) { s.model = model }
}

// WithCacheThreshold sets the minimum system block length that earns a
// cache_control marker. n <= 0 disables cache markers entirely.
func WithCacheThreshold(n int) Option {
	return func(s *Strategy) { s.cacheMin = n }
}

// New constructs a Claude strategy.
func New(apiKey string, opts ...Option) (*Strategy, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude: apiKey must not be empty")
	}

	s := &Strategy{
		client:   sdk.NewClient(option.WithAPIKey(apiKey)),
		model:    DefaultModel,
		cacheMin: cacheMinChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements llm.Strategy.
func (s *Strategy) Name() string { return "claude" }

// Complete implements llm.Strategy.
func (s *Strategy) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := s.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages new: %w", err)
	}
	return parseResponse(msg)
}

// buildParams assembles the Messages API request.
func (s *Strategy) buildParams(req *llm.Request) (*sdk.MessageNewParams, error) {
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("claude: request has no turns")
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Turns),
	}
	if system := buildSystem(req.System, s.cacheMin); len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.Thinking {
		budget := req.ThinkingBudget
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		if budget >= maxTokens {
			return nil, fmt.Errorf("claude: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return params, nil
}

// buildSystem converts system blocks to the system array, marking blocks at
// or above the cache threshold as cache breakpoints. cacheMin <= 0 disables
// markers.
func buildSystem(blocks []string, cacheMin int) []sdk.TextBlockParam {
	system := make([]sdk.TextBlockParam, 0, len(blocks))
	for _, text := range blocks {
		block := sdk.TextBlockParam{Text: text}
		if cacheMin > 0 && len(text) >= cacheMin {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		system = append(system, block)
	}
	return system
}

func buildMessages(turns []llm.Turn) []sdk.MessageParam {
	msgs := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(t.Text)
		if t.Role == llm.RoleAssistant {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	return msgs
}

// parseResponse extracts text, thinking, and usage from the reply.
func parseResponse(msg *sdk.Message) (*llm.Response, error) {
	var content, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	if content.Len() == 0 {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.Response{
		Content:  content.String(),
		Thinking: thinking.String(),
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
