// Package request turns an enriched conversation state into the outgoing
// model request.
//
// The emission order is fixed: persona system block, context-data messages
// with assistant acknowledgments, the compressed dialogue log, the recent
// turn pairs, and finally the current input with its flag section. Given
// the same state the builder produces byte-identical requests.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verdandi-labs/reverie/internal/enrich"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// DefaultPersona is the system instruction used when the profile has no
// active persona message.
const DefaultPersona = "You are a helpful conversational assistant."

// DialogueLogHeader opens the compressed-history message.
const DialogueLogHeader = "[meta] Log: Older events this session - For Information Only, DO NOT USE THIS FORMAT"

// Acknowledgment texts inserted after context-data messages.
const (
	ackGeneric     = "Received."
	ackUserProfile = "Acknowledging user profile."
)

// Builder assembles provider-neutral requests from enriched state.
type Builder struct {
	flags  store.FlagStore
	logger *slog.Logger
}

// NewBuilder creates a [Builder]. A nil logger defaults to [slog.Default].
func NewBuilder(flags store.FlagStore, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{flags: flags, logger: logger}
}

// Build produces the outgoing request for the state's current turn. Flags
// that made it into the prompt are consumed: one-shot flags deactivate,
// constant flags get their use stamped. Consumption failures are logged,
// not fatal.
func (b *Builder) Build(ctx context.Context, s *enrich.State) (*llm.Request, error) {
	if s.CurrentTurn == nil {
		return nil, fmt.Errorf("request: state has no current turn")
	}

	req := &llm.Request{
		System: []string{b.systemInstruction(s)},
		Turns:  []llm.Turn{},
	}

	b.emitContextData(req, s)
	b.emitDialogueLog(req, s)
	b.emitRecentTurns(req, s)
	b.emitCurrentInput(ctx, req, s)

	return req, nil
}

func (b *Builder) systemInstruction(s *enrich.State) string {
	if s.Persona != nil && strings.TrimSpace(s.Persona.Content) != "" {
		return s.Persona.Content
	}
	return DefaultPersona
}

// ─────────────────────────────────────────────────────────────────────────────
// Context-data section
// ─────────────────────────────────────────────────────────────────────────────

func addTurn(req *llm.Request, role llm.Role, text string) {
	req.Turns = append(req.Turns, llm.Turn{Role: role, Text: text})
}

// emitContextData writes the per-entry and grouped context messages, each
// followed by its assistant acknowledgment.
func (b *Builder) emitContextData(req *llm.Request, s *enrich.State) {
	if user := s.UserProfile(); user != nil {
		addTurn(req, llm.RoleUser, fmt.Sprintf("[meta] %s\n%s", user.Name, user.DisplayText()))
		addTurn(req, llm.RoleAssistant, ackUserProfile)
	}

	for _, d := range s.Data() {
		addTurn(req, llm.RoleUser, fmt.Sprintf("[meta] %s\n%s", d.Name, d.DisplayText()))
		addTurn(req, llm.RoleAssistant, ackGeneric)
	}

	for _, d := range s.CharacterProfiles() {
		addTurn(req, llm.RoleUser, fmt.Sprintf("[meta] %s\n%s", d.Name, d.DisplayText()))
		addTurn(req, llm.RoleAssistant, ackGeneric)
	}

	b.emitGroup(req, "memories", s.Memories(), (*model.ContextData).DisplayText)
	b.emitGroup(req, "insights", s.Insights(), (*model.ContextData).DisplayText)
	b.emitGroup(req, "personavoicesamples", s.PersonaVoiceSamples(), FormatAsQuote)
	b.emitGroup(req, "quotes", s.Quotes(), FormatAsQuote)
}

// emitGroup writes one grouped message for a bucket, rendering each entry
// with the given formatter, then the counting acknowledgment.
func (b *Builder) emitGroup(req *llm.Request, header string, entries []model.ContextData, render func(*model.ContextData) string) {
	if len(entries) == 0 {
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "[meta] %s", header)
	for i := range entries {
		body.WriteString("\n")
		body.WriteString(render(&entries[i]))
	}

	addTurn(req, llm.RoleUser, body.String())
	addTurn(req, llm.RoleAssistant,
		fmt.Sprintf("Received %d relevant %s entries.", len(entries), header))
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

func (b *Builder) emitDialogueLog(req *llm.Request, s *enrich.State) {
	if s.DialogueLog == "" {
		return
	}
	addTurn(req, llm.RoleUser, DialogueLogHeader+"\n"+s.DialogueLog)
}

func (b *Builder) emitRecentTurns(req *llm.Request, s *enrich.State) {
	prefix := b.userPrefix(s)
	for _, t := range s.RecentTurns {
		addTurn(req, llm.RoleUser, prefix+t.Input)
		addTurn(req, llm.RoleAssistant, t.Response)
	}
}

// userPrefix returns "<first letter of user name>: ", or "" when the user
// name is unknown.
func (b *Builder) userPrefix(s *enrich.State) string {
	if s.UserName == "" {
		return ""
	}
	return initial(s.UserName) + ": "
}

// ─────────────────────────────────────────────────────────────────────────────
// Current input and flags
// ─────────────────────────────────────────────────────────────────────────────

func (b *Builder) emitCurrentInput(ctx context.Context, req *llm.Request, s *enrich.State) {
	var body strings.Builder
	if s.IsOOCRequest {
		body.WriteString("[ooc] ")
	} else {
		body.WriteString(b.userPrefix(s))
	}
	body.WriteString(s.CurrentTurn.Input)

	values, consumedIDs := b.collectFlags(s)
	if len(values) > 0 {
		body.WriteString("\n\nFlags:")
		for _, v := range values {
			body.WriteString("\n")
			body.WriteString(v)
		}
	}

	addTurn(req, llm.RoleUser, body.String())

	if len(consumedIDs) > 0 && b.flags != nil {
		if err := b.flags.Consume(ctx, consumedIDs); err != nil {
			b.logger.Warn("request: consume flags", "error", err)
		}
	}
}

// collectFlags merges the stored flags with perception-derived directives,
// deduplicating by value while preserving order. It returns the values to
// print and the ids of stored flags to consume.
func (b *Builder) collectFlags(s *enrich.State) (values []string, consumedIDs []int64) {
	seen := make(map[string]struct{})
	add := func(v string) bool {
		v = strings.TrimSpace(v)
		if v == "" {
			return false
		}
		if _, dup := seen[v]; dup {
			return false
		}
		seen[v] = struct{}{}
		values = append(values, v)
		return true
	}

	for _, f := range s.Flags {
		if add(f.Value) {
			consumedIDs = append(consumedIDs, f.ID)
		}
	}
	for _, v := range DeriveFlags(s) {
		add(v)
	}
	return values, consumedIDs
}

// DeriveFlags maps perception records onto prompt directives.
func DeriveFlags(s *enrich.State) []string {
	var (
		flags     []string
		desire    bool
		topics    []string
		complaint bool
	)
	for _, p := range s.Perceptions {
		switch {
		case p.Property == "understanding.complaint:true":
			complaint = true
		case p.Property == "exploration.desire:true":
			desire = true
		case strings.HasPrefix(p.Property, "exploration.topic:"):
			if t := strings.TrimPrefix(p.Property, "exploration.topic:"); t != "" {
				topics = append(topics, t)
			}
		}
	}

	if complaint {
		flags = append(flags,
			fmt.Sprintf("[direction] Exploration: You made a mistake about %s", s.UserName))
	}
	if desire {
		for _, t := range topics {
			flags = append(flags,
				fmt.Sprintf("[direction] Explore ideas on topics: %s", t))
		}
	}
	return flags
}
