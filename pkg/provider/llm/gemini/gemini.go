// Package gemini implements the llm.Strategy interface on the Gemini API
// via the official google.golang.org/genai SDK.
//
// System blocks map to a multi-part systemInstruction; conversation turns
// map to contents with roles "user" and "model". Block and turn order is
// preserved exactly.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/verdandi-labs/reverie/pkg/provider/llm"
)

// DefaultModel is used when neither the strategy nor the request names one.
const DefaultModel = "gemini-2.5-pro"

// Ensure Strategy implements the llm.Strategy interface.
var _ llm.Strategy = (*Strategy)(nil)

// Strategy executes completion requests against Gemini.
type Strategy struct {
	client *genai.Client
	model  string
}

// Option is a functional option for Strategy.
type Option func(*Strategy)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(s *Strategy) { s.model = model }
}

// New constructs a Gemini strategy. The client is created eagerly so
// credential problems surface at startup rather than on the first turn.
func New(ctx context.Context, apiKey string, opts ...Option) (*Strategy, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	s := &Strategy{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements llm.Strategy.
func (s *Strategy) Name() string { return "gemini" }

// Complete implements llm.Strategy.
func (s *Strategy) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("gemini: request has no turns")
	}

	model := req.Model
	if model == "" {
		model = s.model
	}

	contents := buildContents(req.Turns)
	config := buildConfig(req)

	resp, err := s.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return parseResponse(resp)
}

// buildContents converts neutral turns to Gemini contents, mapping the
// assistant role to "model".
func buildContents(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Text}},
		})
	}
	return contents
}

// buildConfig assembles the generation config. Each system block becomes its
// own systemInstruction part so block boundaries survive the trip.
func buildConfig(req *llm.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if len(req.System) > 0 {
		parts := make([]*genai.Part, 0, len(req.System))
		for _, block := range req.System {
			parts = append(parts, &genai.Part{Text: block})
		}
		config.SystemInstruction = &genai.Content{Parts: parts}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Thinking {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.ThinkingBudget > 0 {
			budget := int32(req.ThinkingBudget)
			tc.ThinkingBudget = &budget
		}
		config.ThinkingConfig = tc
	}
	return config
}

// parseResponse extracts text, thinking, and usage from the first candidate.
func parseResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if len(resp.Candidates) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	var content, thinking strings.Builder
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				thinking.WriteString(part.Text)
			} else {
				content.WriteString(part.Text)
			}
		}
	}
	if content.Len() == 0 {
		return nil, llm.ErrEmptyResponse
	}

	out := &llm.Response{
		Content:  content.String(),
		Thinking: thinking.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
