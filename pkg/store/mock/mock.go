// Package mock provides in-memory test doubles for the store interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	cds := &mock.ContextDataStore{}
//	cds.AlwaysOnResult = []model.ContextData{{ID: 1, Type: model.TypeMemory}}
//
//	// inject into the system under test …
//
//	if got := cds.CallCount("GetAlwaysOn"); got == 0 {
//	    t.Error("expected GetAlwaysOn to be called")
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.ContextDataStore   = (*ContextDataStore)(nil)
	_ store.SessionStore       = (*SessionStore)(nil)
	_ store.FlagStore          = (*FlagStore)(nil)
	_ store.SystemMessageStore = (*SystemMessageStore)(nil)
	_ store.ProfileStore       = (*ProfileStore)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is the shared call log embedded in every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func copySlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// ContextDataStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ContextDataStore is a configurable test double for
// [store.ContextDataStore]. Per-type results take precedence over the
// unfiltered ones when the query names a type.
type ContextDataStore struct {
	recorder

	// UserProfileResult is returned by GetUserProfile. Nil means "none".
	UserProfileResult *model.ContextData
	UserProfileErr    error

	// AlwaysOnResult is returned by GetAlwaysOn. When the query names a
	// type and AlwaysOnByType has an entry for it, that entry wins.
	AlwaysOnResult []model.ContextData
	AlwaysOnByType map[model.DataType][]model.ContextData
	AlwaysOnErr    error

	// ActiveManualResult / ActiveManualByType mirror the always-on fields.
	ActiveManualResult []model.ContextData
	ActiveManualByType map[model.DataType][]model.ContextData
	ActiveManualErr    error

	TriggerCandidatesResult []model.ContextData
	TriggerCandidatesErr    error

	SemanticPendingResult []model.ContextData
	SemanticPendingErr    error

	// ByID is consulted by GetByID; ids absent from the map yield
	// [model.ErrNotFound] wrapped errors via GetByIDErr when that is nil.
	ByID     map[int64]*model.ContextData
	GetByIDErr error

	SetUseNextTurnErr     error
	SetUseEveryTurnErr    error
	ClearManualFlagsErr   error
	ProcessPostTurnErr    error
	ChangeAvailabilityErr error
	RecordUsageErr        error
	RecordTriggerFiredErr error
	MarkEmbeddedErr       error
	SetTagsErr            error
	SetTokenCountErr      error
}

// GetUserProfile implements [store.ContextDataStore].
func (m *ContextDataStore) GetUserProfile(_ context.Context) (*model.ContextData, error) {
	m.record("GetUserProfile")
	return m.UserProfileResult, m.UserProfileErr
}

// GetAlwaysOn implements [store.ContextDataStore].
func (m *ContextDataStore) GetAlwaysOn(_ context.Context, q store.ContextDataQuery) ([]model.ContextData, error) {
	m.record("GetAlwaysOn", q)
	if q.Type != "" && m.AlwaysOnByType != nil {
		return copySlice(m.AlwaysOnByType[q.Type]), m.AlwaysOnErr
	}
	return copySlice(m.AlwaysOnResult), m.AlwaysOnErr
}

// GetActiveManual implements [store.ContextDataStore].
func (m *ContextDataStore) GetActiveManual(_ context.Context, q store.ContextDataQuery) ([]model.ContextData, error) {
	m.record("GetActiveManual", q)
	if q.Type != "" && m.ActiveManualByType != nil {
		return copySlice(m.ActiveManualByType[q.Type]), m.ActiveManualErr
	}
	return copySlice(m.ActiveManualResult), m.ActiveManualErr
}

// GetTriggerCandidates implements [store.ContextDataStore].
func (m *ContextDataStore) GetTriggerCandidates(_ context.Context) ([]model.ContextData, error) {
	m.record("GetTriggerCandidates")
	return copySlice(m.TriggerCandidatesResult), m.TriggerCandidatesErr
}

// GetSemanticPending implements [store.ContextDataStore].
func (m *ContextDataStore) GetSemanticPending(_ context.Context) ([]model.ContextData, error) {
	m.record("GetSemanticPending")
	return copySlice(m.SemanticPendingResult), m.SemanticPendingErr
}

// GetByID implements [store.ContextDataStore].
func (m *ContextDataStore) GetByID(_ context.Context, id int64) (*model.ContextData, error) {
	m.record("GetByID", id)
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	if d, ok := m.ByID[id]; ok {
		return d, nil
	}
	return nil, model.ErrNotFound
}

// SetUseNextTurn implements [store.ContextDataStore].
func (m *ContextDataStore) SetUseNextTurn(_ context.Context, id int64) error {
	m.record("SetUseNextTurn", id)
	return m.SetUseNextTurnErr
}

// SetUseEveryTurn implements [store.ContextDataStore].
func (m *ContextDataStore) SetUseEveryTurn(_ context.Context, id int64, on bool) error {
	m.record("SetUseEveryTurn", id, on)
	return m.SetUseEveryTurnErr
}

// ClearManualFlags implements [store.ContextDataStore].
func (m *ContextDataStore) ClearManualFlags(_ context.Context, id int64) error {
	m.record("ClearManualFlags", id)
	return m.ClearManualFlagsErr
}

// ProcessPostTurn implements [store.ContextDataStore].
func (m *ContextDataStore) ProcessPostTurn(_ context.Context) error {
	m.record("ProcessPostTurn")
	return m.ProcessPostTurnErr
}

// ChangeAvailability implements [store.ContextDataStore].
func (m *ContextDataStore) ChangeAvailability(_ context.Context, id int64, a model.Availability) error {
	m.record("ChangeAvailability", id, a)
	return m.ChangeAvailabilityErr
}

// RecordUsage implements [store.ContextDataStore].
func (m *ContextDataStore) RecordUsage(_ context.Context, turnID int64, ids []int64) error {
	m.record("RecordUsage", turnID, ids)
	return m.RecordUsageErr
}

// RecordTriggerFired implements [store.ContextDataStore].
func (m *ContextDataStore) RecordTriggerFired(_ context.Context, ids []int64) error {
	m.record("RecordTriggerFired", ids)
	return m.RecordTriggerFiredErr
}

// MarkEmbedded implements [store.ContextDataStore].
func (m *ContextDataStore) MarkEmbedded(_ context.Context, id int64, vectorID string, at time.Time) error {
	m.record("MarkEmbedded", id, vectorID, at)
	return m.MarkEmbeddedErr
}

// SetTags implements [store.ContextDataStore].
func (m *ContextDataStore) SetTags(_ context.Context, id int64, tags []string, relevanceScore int, relevanceReason string) error {
	m.record("SetTags", id, tags, relevanceScore, relevanceReason)
	return m.SetTagsErr
}

// SetTokenCount implements [store.ContextDataStore].
func (m *ContextDataStore) SetTokenCount(_ context.Context, id int64, tokens int) error {
	m.record("SetTokenCount", id, tokens)
	return m.SetTokenCountErr
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is a configurable test double for [store.SessionStore].
type SessionStore struct {
	recorder

	ActiveSessionResult *model.Session
	ActiveSessionErr    error

	CreateSessionResult *model.Session
	CreateSessionErr    error

	SessionsResult []model.Session
	SessionsErr    error

	ActivateSessionErr error

	// AcceptedTurnsResult is returned oldest-first by AcceptedTurns and is
	// the basis for RecentAcceptedTurns (which slices and reverses it).
	AcceptedTurnsResult []model.Turn
	AcceptedTurnsErr    error

	CreateTurnResult *model.Turn
	CreateTurnErr    error

	CompleteTurnErr error
}

// ActiveSession implements [store.SessionStore].
func (m *SessionStore) ActiveSession(_ context.Context) (*model.Session, error) {
	m.record("ActiveSession")
	return m.ActiveSessionResult, m.ActiveSessionErr
}

// CreateSession implements [store.SessionStore].
func (m *SessionStore) CreateSession(_ context.Context, name string) (*model.Session, error) {
	m.record("CreateSession", name)
	return m.CreateSessionResult, m.CreateSessionErr
}

// Sessions implements [store.SessionStore].
func (m *SessionStore) Sessions(_ context.Context) ([]model.Session, error) {
	m.record("Sessions")
	return copySlice(m.SessionsResult), m.SessionsErr
}

// ActivateSession implements [store.SessionStore].
func (m *SessionStore) ActivateSession(_ context.Context, id int64) error {
	m.record("ActivateSession", id)
	return m.ActivateSessionErr
}

// AcceptedTurns implements [store.SessionStore].
func (m *SessionStore) AcceptedTurns(_ context.Context, sessionID int64) ([]model.Turn, error) {
	m.record("AcceptedTurns", sessionID)
	return copySlice(m.AcceptedTurnsResult), m.AcceptedTurnsErr
}

// RecentAcceptedTurns implements [store.SessionStore]. It derives the result
// from AcceptedTurnsResult: the last limit turns, newest first.
func (m *SessionStore) RecentAcceptedTurns(_ context.Context, sessionID int64, limit int) ([]model.Turn, error) {
	m.record("RecentAcceptedTurns", sessionID, limit)
	if m.AcceptedTurnsErr != nil {
		return nil, m.AcceptedTurnsErr
	}
	turns := m.AcceptedTurnsResult
	if limit < len(turns) {
		turns = turns[len(turns)-limit:]
	}
	out := make([]model.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		out = append(out, turns[i])
	}
	return out, nil
}

// CreateTurn implements [store.SessionStore].
func (m *SessionStore) CreateTurn(_ context.Context, sessionID int64, input string) (*model.Turn, error) {
	m.record("CreateTurn", sessionID, input)
	if m.CreateTurnResult != nil {
		return m.CreateTurnResult, m.CreateTurnErr
	}
	return &model.Turn{ID: 1, SessionID: sessionID, Input: input}, m.CreateTurnErr
}

// CompleteTurn implements [store.SessionStore].
func (m *SessionStore) CompleteTurn(_ context.Context, turn *model.Turn) error {
	m.record("CompleteTurn", *turn)
	return m.CompleteTurnErr
}

// ─────────────────────────────────────────────────────────────────────────────
// FlagStore mock
// ─────────────────────────────────────────────────────────────────────────────

// FlagStore is a configurable test double for [store.FlagStore].
type FlagStore struct {
	recorder

	ActiveOrConstantResult []model.Flag
	ActiveOrConstantErr    error

	ConsumeErr error
}

// ActiveOrConstant implements [store.FlagStore].
func (m *FlagStore) ActiveOrConstant(_ context.Context) ([]model.Flag, error) {
	m.record("ActiveOrConstant")
	return copySlice(m.ActiveOrConstantResult), m.ActiveOrConstantErr
}

// Consume implements [store.FlagStore].
func (m *FlagStore) Consume(_ context.Context, ids []int64) error {
	m.record("Consume", ids)
	return m.ConsumeErr
}

// ─────────────────────────────────────────────────────────────────────────────
// SystemMessageStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SystemMessageStore is a configurable test double for
// [store.SystemMessageStore].
type SystemMessageStore struct {
	recorder

	PersonaResult *model.SystemMessage
	PersonaErr    error

	PerceptionsResult []model.SystemMessage
	PerceptionsErr    error

	// Technical maps message names to results for TechnicalByName.
	Technical    map[string]*model.SystemMessage
	TechnicalErr error
}

// ActivePersona implements [store.SystemMessageStore].
func (m *SystemMessageStore) ActivePersona(_ context.Context) (*model.SystemMessage, error) {
	m.record("ActivePersona")
	return m.PersonaResult, m.PersonaErr
}

// ActivePerceptions implements [store.SystemMessageStore].
func (m *SystemMessageStore) ActivePerceptions(_ context.Context) ([]model.SystemMessage, error) {
	m.record("ActivePerceptions")
	return copySlice(m.PerceptionsResult), m.PerceptionsErr
}

// TechnicalByName implements [store.SystemMessageStore].
func (m *SystemMessageStore) TechnicalByName(_ context.Context, name string) (*model.SystemMessage, error) {
	m.record("TechnicalByName", name)
	if m.TechnicalErr != nil {
		return nil, m.TechnicalErr
	}
	return m.Technical[name], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ProfileStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ProfileStore is a configurable test double for [store.ProfileStore].
type ProfileStore struct {
	recorder

	ActiveProfileResult *model.Profile
	ActiveProfileErr    error
}

// ActiveProfile implements [store.ProfileStore].
func (m *ProfileStore) ActiveProfile(_ context.Context) (*model.Profile, error) {
	m.record("ActiveProfile")
	if m.ActiveProfileResult == nil && m.ActiveProfileErr == nil {
		return nil, model.ErrNotFound
	}
	return m.ActiveProfileResult, m.ActiveProfileErr
}
