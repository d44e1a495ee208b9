package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/verdandi-labs/reverie/internal/perception"
	"github.com/verdandi-labs/reverie/internal/trigger"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// Enricher adds information to a [State]. Implementations only ever add,
// never remove; errors are treated as best-effort by the orchestrator.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, s *State) error
}

// ready reports whether the state carries enough context to enrich. Every
// enricher skips silently without a session or current turn.
func ready(s *State) bool {
	return s.Session != nil && s.CurrentTurn != nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Type-bucket enrichers
// ─────────────────────────────────────────────────────────────────────────────

// typeEnricher is the shared base for the per-type enrichers: load the
// always-on records of one type, then the manually pinned ones where the
// validity table permits manual availability.
type typeEnricher struct {
	name     string
	dataType model.DataType
	data     store.ContextDataStore
}

func (e *typeEnricher) Name() string { return e.name }

func (e *typeEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}

	q := store.ContextDataQuery{Type: e.dataType}
	alwaysOn, err := e.data.GetAlwaysOn(ctx, q)
	if err != nil {
		return fmt.Errorf("%s: load always-on: %w", e.name, err)
	}
	s.AddAll(alwaysOn)

	if !model.ValidCombination(e.dataType, model.AvailManual) {
		return nil
	}
	manual, err := e.data.GetActiveManual(ctx, q)
	if err != nil {
		return fmt.Errorf("%s: load manual: %w", e.name, err)
	}
	s.AddAll(manual)
	return nil
}

// NewGenericDataEnricher fills the generic-data bucket.
func NewGenericDataEnricher(data store.ContextDataStore) Enricher {
	return &typeEnricher{name: "generic", dataType: model.TypeGeneric, data: data}
}

// NewQuoteEnricher fills the quote bucket with always-on and manual quotes;
// semantic quotes arrive via the semantic enricher.
func NewQuoteEnricher(data store.ContextDataStore) Enricher {
	return &typeEnricher{name: "quote", dataType: model.TypeQuote, data: data}
}

// NewMemoryDataEnricher fills the memory bucket.
func NewMemoryDataEnricher(data store.ContextDataStore) Enricher {
	return &typeEnricher{name: "memory", dataType: model.TypeMemory, data: data}
}

// NewInsightEnricher fills the insight bucket.
func NewInsightEnricher(data store.ContextDataStore) Enricher {
	return &typeEnricher{name: "insight", dataType: model.TypeInsight, data: data}
}

// NewPersonaVoiceSampleEnricher fills the voice-sample bucket. Voice
// samples cannot be manual, so only always-on records are loaded.
func NewPersonaVoiceSampleEnricher(data store.ContextDataStore) Enricher {
	return &typeEnricher{name: "personavoicesample", dataType: model.TypePersonaVoiceSample, data: data}
}

// CharacterProfileEnricher loads the user's own profile first, deriving
// state.UserName from it, then the remaining character profiles.
type CharacterProfileEnricher struct {
	base typeEnricher
}

// NewCharacterProfileEnricher creates a [CharacterProfileEnricher].
func NewCharacterProfileEnricher(data store.ContextDataStore) *CharacterProfileEnricher {
	return &CharacterProfileEnricher{
		base: typeEnricher{name: "characterprofile", dataType: model.TypeCharacterProfile, data: data},
	}
}

func (e *CharacterProfileEnricher) Name() string { return e.base.name }

func (e *CharacterProfileEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}

	user, err := e.base.data.GetUserProfile(ctx)
	if err != nil {
		return fmt.Errorf("characterprofile: load user profile: %w", err)
	}
	if user != nil {
		s.SetUserProfile(user)
		s.UserName = user.Name
	}

	return e.base.Enrich(ctx, s)
}

// ─────────────────────────────────────────────────────────────────────────────
// Trigger
// ─────────────────────────────────────────────────────────────────────────────

// TriggerEnricher runs the keyword-trigger evaluation and routes every
// firing record into its typed bucket.
type TriggerEnricher struct {
	evaluator *trigger.Evaluator
}

// NewTriggerEnricher creates a [TriggerEnricher].
func NewTriggerEnricher(evaluator *trigger.Evaluator) *TriggerEnricher {
	return &TriggerEnricher{evaluator: evaluator}
}

func (e *TriggerEnricher) Name() string { return "trigger" }

func (e *TriggerEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}
	fired, err := e.evaluator.Evaluate(ctx, s.Session.ID, s.CurrentTurn.Input)
	if err != nil {
		return err
	}
	s.AddAll(fired)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Flags
// ─────────────────────────────────────────────────────────────────────────────

// FlagEnricher loads every active or constant flag into state.Flags.
type FlagEnricher struct {
	flags store.FlagStore
}

// NewFlagEnricher creates a [FlagEnricher].
func NewFlagEnricher(flags store.FlagStore) *FlagEnricher {
	return &FlagEnricher{flags: flags}
}

func (e *FlagEnricher) Name() string { return "flag" }

func (e *FlagEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}
	flags, err := e.flags.ActiveOrConstant(ctx)
	if err != nil {
		return fmt.Errorf("flag: load flags: %w", err)
	}
	s.Flags = flags
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn history and dialogue log
// ─────────────────────────────────────────────────────────────────────────────

// TurnHistoryEnricher loads the session's accepted turns and splits them
// into the recent window and the older remainder. It must run before the
// dialogue-log, trigger, and semantic enrichers.
type TurnHistoryEnricher struct {
	sessions    store.SessionStore
	recentTurns int
}

// NewTurnHistoryEnricher creates a [TurnHistoryEnricher] keeping the last
// recentTurns turns as the recent window.
func NewTurnHistoryEnricher(sessions store.SessionStore, recentTurns int) *TurnHistoryEnricher {
	return &TurnHistoryEnricher{sessions: sessions, recentTurns: recentTurns}
}

func (e *TurnHistoryEnricher) Name() string { return "turnhistory" }

func (e *TurnHistoryEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}
	turns, err := e.sessions.AcceptedTurns(ctx, s.Session.ID)
	if err != nil {
		return fmt.Errorf("turnhistory: load turns: %w", err)
	}
	s.SetTurnHistory(turns, e.recentTurns)
	return nil
}

// DialogueLogEnricher compresses turns older than the recent window into a
// terse log. It keeps at most maxTurns of the older turns and notes how
// many were truncated beyond that.
type DialogueLogEnricher struct {
	maxTurns int
}

// NewDialogueLogEnricher creates a [DialogueLogEnricher].
func NewDialogueLogEnricher(maxTurns int) *DialogueLogEnricher {
	return &DialogueLogEnricher{maxTurns: maxTurns}
}

func (e *DialogueLogEnricher) Name() string { return "dialoguelog" }

func (e *DialogueLogEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}
	older := s.OlderTurns()
	if len(older) == 0 {
		return nil
	}

	truncated := 0
	if e.maxTurns > 0 && len(older) > e.maxTurns {
		truncated = len(older) - e.maxTurns
		older = older[truncated:]
	}

	var b strings.Builder
	if truncated > 0 {
		fmt.Fprintf(&b, "(truncated %d earlier turns)\n", truncated)
	}
	for i, t := range older {
		if i > 0 {
			b.WriteString("\n")
		}
		if t.StrippedTurn != "" {
			b.WriteString(t.StrippedTurn)
		} else {
			b.WriteString(t.Input)
			b.WriteString("\n")
			b.WriteString(t.Response)
		}
	}
	s.DialogueLog = b.String()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Perception
// ─────────────────────────────────────────────────────────────────────────────

// PerceptionAnalyzer is the slice of the perception package the enricher
// consumes.
type PerceptionAnalyzer interface {
	Analyze(ctx context.Context, previousResponse, input string) ([]perception.Record, error)
}

// PerceptionEnricher annotates the current input with structured
// perception records. A disabled analyzer leaves state.Perceptions empty.
type PerceptionEnricher struct {
	analyzer PerceptionAnalyzer
	enabled  bool
}

// NewPerceptionEnricher creates a [PerceptionEnricher].
func NewPerceptionEnricher(analyzer PerceptionAnalyzer, enabled bool) *PerceptionEnricher {
	return &PerceptionEnricher{analyzer: analyzer, enabled: enabled}
}

func (e *PerceptionEnricher) Name() string { return "perception" }

func (e *PerceptionEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) || !e.enabled || e.analyzer == nil {
		return nil
	}
	records, err := e.analyzer.Analyze(ctx, s.PreviousResponse, s.CurrentTurn.Input)
	if err != nil {
		return err
	}
	s.Perceptions = records
	return nil
}
