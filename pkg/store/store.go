// Package store defines the persistence capabilities consumed by the Reverie
// enrichment pipeline.
//
// The catalog is split into narrow interfaces so that enrichers and services
// depend only on the slice of storage they actually use:
//
//   - [ContextDataStore]: the polymorphic context-data catalog, queried by
//     profile, type, and availability.
//   - [SessionStore]: sessions and their turn history.
//   - [FlagStore]: prompt directive flags.
//   - [SystemMessageStore]: persona, perception, and technical prompt texts.
//   - [ProfileStore]: the active-profile scope.
//
// All interfaces are public so external packages can supply alternative
// backends (Postgres, in-memory, …). Every implementation must be safe for
// concurrent use; each call is a short-lived unit of work.
package store

import (
	"context"
	"time"

	"github.com/verdandi-labs/reverie/pkg/model"
)

// ContextDataQuery narrows catalog reads. The zero value matches everything
// within the caller's profile scope.
type ContextDataQuery struct {
	// Type restricts results to a single data type when non-empty.
	Type model.DataType
}

// ContextDataStore is the catalog of [model.ContextData] records for one
// profile. All reads implicitly filter by the profile id the store was
// scoped to at construction, and exclude disabled and archived records
// unless noted otherwise.
//
// Mutations return an error wrapping [model.ErrNotFound] for unknown ids and
// [model.ErrInvalidCombination] for validity-table violations.
type ContextDataStore interface {
	// GetUserProfile returns the unique user character profile (type
	// characterprofile, isUser, enabled, not archived), or (nil, nil) when
	// none exists.
	GetUserProfile(ctx context.Context) (*model.ContextData, error)

	// GetAlwaysOn returns all always-on records, optionally filtered by
	// type, ordered by (type, sortOrder).
	GetAlwaysOn(ctx context.Context, q ContextDataQuery) ([]model.ContextData, error)

	// GetActiveManual returns manual records with UseNextTurnOnly or
	// UseEveryTurn set, optionally filtered by type.
	GetActiveManual(ctx context.Context, q ContextDataQuery) ([]model.ContextData, error)

	// GetTriggerCandidates returns trigger records with a non-empty keyword
	// list.
	GetTriggerCandidates(ctx context.Context) ([]model.ContextData, error)

	// GetSemanticPending returns semantic records not yet present in the
	// vector index (InVectorDB false).
	GetSemanticPending(ctx context.Context) ([]model.ContextData, error)

	// GetByID returns a single record regardless of enabled/archived state.
	GetByID(ctx context.Context, id int64) (*model.ContextData, error)

	// SetUseNextTurn marks the record for one-shot manual inclusion. If the
	// record is not currently manual, its availability is saved in
	// PreviousAvailability and switched to manual.
	SetUseNextTurn(ctx context.Context, id int64) error

	// SetUseEveryTurn toggles persistent manual inclusion, with the same
	// availability save/switch behaviour as SetUseNextTurn when turning on.
	SetUseEveryTurn(ctx context.Context, id int64, on bool) error

	// ClearManualFlags resets both manual flags. When PreviousAvailability
	// is set it is restored and nulled.
	ClearManualFlags(ctx context.Context, id int64) error

	// ProcessPostTurn runs after a completed turn: every record with
	// UseNextTurnOnly set has the flag reset and its availability restored
	// from PreviousAvailability. Idempotent.
	ProcessPostTurn(ctx context.Context) error

	// ChangeAvailability validates the new combination against the validity
	// table and applies it. Leaving manual zeroes the manual flags and
	// PreviousAvailability.
	ChangeAvailability(ctx context.Context, id int64, a model.Availability) error

	// RecordUsage increments UsageCount and stamps LastUsedAt and
	// UsedLastOnTurnID for each id in one round trip. Unknown ids in the
	// batch are ignored.
	RecordUsage(ctx context.Context, turnID int64, ids []int64) error

	// RecordTriggerFired increments UsageCount and TriggerCount and stamps
	// LastTriggeredAt for each id in one round trip.
	RecordTriggerFired(ctx context.Context, ids []int64) error

	// MarkEmbedded stamps the semantic-index state after an upsert.
	MarkEmbedded(ctx context.Context, id int64, vectorID string, at time.Time) error

	// SetTags stores the curation metadata produced by the tagging pass.
	SetTags(ctx context.Context, id int64, tags []string, relevanceScore int, relevanceReason string) error

	// SetTokenCount caches the token length of the record's display text.
	SetTokenCount(ctx context.Context, id int64, tokens int) error
}

// SessionStore manages sessions and turns for the scoped profile.
type SessionStore interface {
	// ActiveSession returns the single active session, or (nil, nil) when
	// the profile has none.
	ActiveSession(ctx context.Context) (*model.Session, error)

	// CreateSession creates a new session and makes it the active one,
	// deactivating any previously active session.
	CreateSession(ctx context.Context, name string) (*model.Session, error)

	// Sessions returns all sessions for the profile, newest first.
	Sessions(ctx context.Context) ([]model.Session, error)

	// ActivateSession makes the given session active, deactivating others.
	ActivateSession(ctx context.Context, id int64) error

	// AcceptedTurns returns all accepted turns of the session ordered by
	// (createdAt, id), oldest first.
	AcceptedTurns(ctx context.Context, sessionID int64) ([]model.Turn, error)

	// RecentAcceptedTurns returns up to limit accepted turns, newest first.
	RecentAcceptedTurns(ctx context.Context, sessionID int64, limit int) ([]model.Turn, error)

	// CreateTurn persists a placeholder turn holding the raw input and
	// returns it with its assigned id.
	CreateTurn(ctx context.Context, sessionID int64, input string) (*model.Turn, error)

	// CompleteTurn stores the response, stripped projection, and accepted
	// flag for an existing turn.
	CompleteTurn(ctx context.Context, turn *model.Turn) error
}

// FlagStore manages prompt directive flags for the scoped profile.
type FlagStore interface {
	// ActiveOrConstant returns flags with Active or Constant set, ordered
	// newest-first by (active desc, coalesce(lastUsedAt, createdAt) desc).
	ActiveOrConstant(ctx context.Context) ([]model.Flag, error)

	// Consume stamps LastUsedAt for all ids and clears Active on one-shot
	// (non-constant) flags, in one round trip.
	Consume(ctx context.Context, ids []int64) error
}

// SystemMessageStore serves persona, perception, and technical prompt texts
// for the scoped profile.
type SystemMessageStore interface {
	// ActivePersona returns the active persona message, or (nil, nil).
	ActivePersona(ctx context.Context) (*model.SystemMessage, error)

	// ActivePerceptions returns all active perception messages.
	ActivePerceptions(ctx context.Context) ([]model.SystemMessage, error)

	// TechnicalByName returns the active technical message with the given
	// name, or (nil, nil) when absent.
	TechnicalByName(ctx context.Context, name string) (*model.SystemMessage, error)
}

// ProfileStore resolves the process-wide active profile scope.
type ProfileStore interface {
	// ActiveProfile returns the currently active profile.
	// Returns an error wrapping [model.ErrNotFound] when no profile is active.
	ActiveProfile(ctx context.Context) (*model.Profile, error)
}
