// Package model defines the persistent entities of the Reverie context engine:
// polymorphic context-data records, sessions and turns, prompt flags, and
// versioned system messages.
//
// A [ContextData] record is a tagged variant: its [DataType] says what kind of
// content it carries and its [Availability] says by which mechanism it becomes
// part of a turn's context. Not every combination is legal — see
// [ValidCombination].
package model

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Enumerations
// ─────────────────────────────────────────────────────────────────────────────

// DataType classifies the content of a [ContextData] record.
type DataType string

const (
	TypeQuote              DataType = "quote"
	TypePersonaVoiceSample DataType = "personavoicesample"
	TypeMemory             DataType = "memory"
	TypeInsight            DataType = "insight"
	TypeCharacterProfile   DataType = "characterprofile"
	TypeGeneric            DataType = "generic"
)

// AllDataTypes lists every recognised [DataType] in canonical order.
var AllDataTypes = []DataType{
	TypeQuote,
	TypePersonaVoiceSample,
	TypeMemory,
	TypeInsight,
	TypeCharacterProfile,
	TypeGeneric,
}

// IsValid reports whether t is a recognised data type.
func (t DataType) IsValid() bool {
	switch t {
	case TypeQuote, TypePersonaVoiceSample, TypeMemory, TypeInsight,
		TypeCharacterProfile, TypeGeneric:
		return true
	}
	return false
}

// SemanticTypes lists the data types eligible for embedding-based retrieval.
var SemanticTypes = []DataType{
	TypeQuote,
	TypeMemory,
	TypeInsight,
	TypePersonaVoiceSample,
}

// Availability is the mechanism by which a [ContextData] record becomes part
// of a turn's context.
type Availability string

const (
	// AvailAlwaysOn injects the record into every turn.
	AvailAlwaysOn Availability = "alwayson"

	// AvailManual injects the record while one of the manual flags
	// (UseNextTurnOnly, UseEveryTurn) is set.
	AvailManual Availability = "manual"

	// AvailSemantic makes the record a candidate for vector retrieval.
	AvailSemantic Availability = "semantic"

	// AvailTrigger injects the record when its keyword rule fires against the
	// recent-turn window.
	AvailTrigger Availability = "trigger"

	// AvailArchive parks the record: never selected, kept for reference.
	AvailArchive Availability = "archive"
)

// IsValid reports whether a is a recognised availability mechanism.
func (a Availability) IsValid() bool {
	switch a {
	case AvailAlwaysOn, AvailManual, AvailSemantic, AvailTrigger, AvailArchive:
		return true
	}
	return false
}

// DisplayMode selects which of the three content bodies of a [ContextData]
// record is rendered into the prompt.
type DisplayMode string

const (
	DisplayContent   DisplayMode = "content"
	DisplaySummary   DisplayMode = "summary"
	DisplayCoreFacts DisplayMode = "corefacts"
)

// ─────────────────────────────────────────────────────────────────────────────
// Type/availability validity
// ─────────────────────────────────────────────────────────────────────────────

// invalidCombos enumerates the forbidden (type, availability) pairs. Every
// pair not listed here is legal. AlwaysOn, Manual (except voice samples),
// Trigger (except quotes and voice samples) and Archive are broadly allowed;
// Semantic is reserved for embeddable content types.
var invalidCombos = map[DataType][]Availability{
	TypeQuote:              {AvailTrigger},
	TypePersonaVoiceSample: {AvailManual, AvailTrigger},
	TypeCharacterProfile:   {AvailSemantic},
	TypeGeneric:            {AvailSemantic},
}

// ValidCombination reports whether availability a is legal for data type t.
func ValidCombination(t DataType, a Availability) bool {
	if !t.IsValid() || !a.IsValid() {
		return false
	}
	for _, bad := range invalidCombos[t] {
		if a == bad {
			return false
		}
	}
	return true
}

// ValidateCombination returns a descriptive error wrapping
// [ErrInvalidCombination] when availability a is not legal for type t.
func ValidateCombination(t DataType, a Availability) error {
	if !ValidCombination(t, a) {
		return fmt.Errorf("%w: type %q with availability %q", ErrInvalidCombination, t, a)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ContextData
// ─────────────────────────────────────────────────────────────────────────────

// ContextData is a polymorphic content record scoped to a profile. Depending
// on Type it represents a quote, a persona voice sample, a long-term memory,
// an insight, a character profile, or generic background data.
type ContextData struct {
	ID        int64
	ProfileID int64
	Name      string

	// Content is the full body. Summary and CoreFacts are optional condensed
	// renderings; Display selects which of the three is shown.
	Content   string
	Summary   string
	CoreFacts string
	Display   DisplayMode

	Type         DataType
	Availability Availability

	// IsUser marks THE user's own character profile. Only meaningful when
	// Type is [TypeCharacterProfile]; at most one enabled, non-archived
	// record per profile may carry it.
	IsUser bool

	IsEnabled  bool
	IsArchived bool
	SortOrder  int

	// Manual-availability bookkeeping. PreviousAvailability remembers where
	// the record came from so clearing the manual flags can restore it.
	UseNextTurnOnly      bool
	UseEveryTurn         bool
	PreviousAvailability Availability

	// Trigger rule. TriggerKeywords is a comma-separated lowercase list.
	TriggerKeywords      string
	TriggerLookbackTurns int
	TriggerMinMatchCount int

	// Semantic-retrieval state.
	VectorID           string
	InVectorDB         bool
	EmbeddingUpdatedAt time.Time

	// Origin of the record.
	SourceSessionID   int64
	Speaker           string
	Subtype           string
	NonverbalBehavior string

	// Curation metadata assigned by the tagging pass.
	RelevanceScore  int
	RelevanceReason string
	Tags            []string

	// Selection bookkeeping.
	CooldownTurns    int
	UsedLastOnTurnID int64
	UsageCount       int
	TriggerCount     int
	LastUsedAt       time.Time
	LastTriggeredAt  time.Time

	// TokenCount caches the token length of the display text; 0 means not
	// yet counted.
	TokenCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayText returns the body selected by Display, falling back to Content
// when the condensed rendering is empty.
func (d *ContextData) DisplayText() string {
	switch d.Display {
	case DisplaySummary:
		if d.Summary != "" {
			return d.Summary
		}
	case DisplayCoreFacts:
		if d.CoreFacts != "" {
			return d.CoreFacts
		}
	}
	return d.Content
}

// KeywordList parses TriggerKeywords into trimmed, lower-cased, non-empty
// keywords.
func (d *ContextData) KeywordList() []string {
	if d.TriggerKeywords == "" {
		return nil
	}
	parts := strings.Split(d.TriggerKeywords, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		kw := strings.ToLower(strings.TrimSpace(p))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// IsOnCooldown reports whether the record is still cooling down at
// currentTurnID. Records with no cooldown or no recorded use are never on
// cooldown. Selection itself is not cooldown-gated; this is advisory state
// for ranking readers.
func (d *ContextData) IsOnCooldown(currentTurnID int64) bool {
	if d.CooldownTurns <= 0 || d.UsedLastOnTurnID <= 0 {
		return false
	}
	return currentTurnID-d.UsedLastOnTurnID < int64(d.CooldownTurns)
}

// VectorPointID returns the canonical logical vector id for this record:
// "<type-lowercase>#<id>#full".
func (d *ContextData) VectorPointID() string {
	return fmt.Sprintf("%s#%d#full", d.Type, d.ID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions and turns
// ─────────────────────────────────────────────────────────────────────────────

// Session is an ordered sequence of turns belonging to one profile. At most
// one session per profile is active.
type Session struct {
	ID        int64
	ProfileID int64
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Turn is one exchange in a session: the user input and the assistant
// response, plus a terse stripped projection used for older-history
// compression.
type Turn struct {
	ID        int64
	SessionID int64

	Input    string
	Response string

	// StrippedTurn is an action/dialogue-only rendering of the exchange.
	// Empty until the post-turn stripping pass has run.
	StrippedTurn string

	// Accepted is set once the turn completed with a successful response.
	Accepted bool

	CreatedAt time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Flags and system messages
// ─────────────────────────────────────────────────────────────────────────────

// Flag is a short directive string injected into the trailing section of the
// outgoing prompt. Active flags are one-shot: they deactivate after use.
// Constant flags persist across turns.
type Flag struct {
	ID        int64
	ProfileID int64
	Value     string
	Active    bool
	Constant  bool

	LastUsedAt time.Time
	CreatedAt  time.Time
}

// SystemMessageType classifies a [SystemMessage].
type SystemMessageType string

const (
	// SystemPersona drives the system-instruction block of every request.
	SystemPersona SystemMessageType = "persona"

	// SystemPerception messages each drive one perception LLM pass over the
	// current input.
	SystemPerception SystemMessageType = "perception"

	// SystemTechnical messages are named prompt fragments addressed by name,
	// e.g. "quote query transformer" or "turn stripper instructions".
	SystemTechnical SystemMessageType = "technical"
)

// SystemMessage is versioned prompt text belonging to a profile.
type SystemMessage struct {
	ID        int64
	ProfileID int64
	Name      string
	Type      SystemMessageType
	Content   string
	Version   int
	IsActive  bool
	CreatedAt time.Time
}

// Profile is a named scope owning sessions, system messages, flags, and
// context data.
type Profile struct {
	ID          int64
	Name        string
	PersonaName string
	IsActive    bool
	CreatedAt   time.Time
}
