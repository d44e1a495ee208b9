// Package enrich assembles the conversation state for one turn: typed
// context-data buckets, flags, perception records, and the recent-history
// window, filled in by a set of concurrent enrichers.
package enrich

import (
	"sync"

	"github.com/verdandi-labs/reverie/internal/perception"
	"github.com/verdandi-labs/reverie/pkg/model"
)

// State is the mutable accumulator for one turn.
//
// Bucket insertion (Add, SetUserProfile) is safe for concurrent use and
// deduplicates by record id across all buckets. The scalar fields are each
// written by exactly one enricher and read only after the orchestrator has
// joined, so they carry no locking.
type State struct {
	Session     *model.Session
	CurrentTurn *model.Turn

	// PersonaName comes from the profile; UserName is set by the
	// character-profile enricher from the user's profile record.
	PersonaName string
	UserName    string

	// Persona is the active persona system message, when one exists.
	Persona *model.SystemMessage

	// IsOOCRequest marks the current input as an out-of-character request.
	IsOOCRequest bool

	// Flags is written by the flag enricher; the request builder may append
	// perception-derived flags afterwards, single-threaded.
	Flags []model.Flag

	// Perceptions holds the structured annotations of the current input.
	Perceptions []perception.Record

	// Turn history, written by the turn-history enricher.
	RecentTurns      []model.Turn
	PreviousTurn     string
	PreviousResponse string

	// DialogueLog is the compressed rendering of turns older than the
	// recent window.
	DialogueLog string

	mu          sync.Mutex
	seen        map[int64]struct{}
	userProfile *model.ContextData
	profiles    []model.ContextData
	data        []model.ContextData
	memories    []model.ContextData
	insights    []model.ContextData
	samples     []model.ContextData
	quotes      []model.ContextData

	// olderTurns holds accepted turns preceding the recent window, for the
	// dialogue-log enricher.
	olderTurns []model.Turn
}

// NewState creates a [State] for the given session and turn.
func NewState(session *model.Session, turn *model.Turn, personaName string) *State {
	return &State{
		Session:     session,
		CurrentTurn: turn,
		PersonaName: personaName,
		seen:        make(map[int64]struct{}),
	}
}

// Add routes d into the bucket for its type. It returns false when a record
// with the same id is already present in any bucket, or when the type has
// no bucket. User-marked character profiles go through [State.SetUserProfile]
// instead and are rejected here.
func (s *State) Add(d model.ContextData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[d.ID]; dup {
		return false
	}

	switch d.Type {
	case model.TypeCharacterProfile:
		if d.IsUser {
			return false
		}
		s.profiles = append(s.profiles, d)
	case model.TypeGeneric:
		s.data = append(s.data, d)
	case model.TypeMemory:
		s.memories = append(s.memories, d)
	case model.TypeInsight:
		s.insights = append(s.insights, d)
	case model.TypePersonaVoiceSample:
		s.samples = append(s.samples, d)
	case model.TypeQuote:
		s.quotes = append(s.quotes, d)
	default:
		return false
	}

	s.seen[d.ID] = struct{}{}
	return true
}

// AddAll routes each record through [State.Add] and returns how many were
// actually inserted.
func (s *State) AddAll(ds []model.ContextData) int {
	n := 0
	for _, d := range ds {
		if s.Add(d) {
			n++
		}
	}
	return n
}

// SetUserProfile stores the user's own character profile. It participates
// in cross-bucket deduplication like any other record.
func (s *State) SetUserProfile(d *model.ContextData) bool {
	if d == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[d.ID]; dup {
		return false
	}
	cp := *d
	s.userProfile = &cp
	s.seen[d.ID] = struct{}{}
	return true
}

// Has reports whether a record id is present in any bucket.
func (s *State) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// UserProfile returns the user's character profile, or nil.
func (s *State) UserProfile() *model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userProfile
}

func (s *State) copyBucket(b []model.ContextData) []model.ContextData {
	out := make([]model.ContextData, len(b))
	copy(out, b)
	return out
}

// CharacterProfiles returns the non-user character profile bucket.
func (s *State) CharacterProfiles() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.profiles)
}

// Data returns the generic-data bucket.
func (s *State) Data() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.data)
}

// Memories returns the memory bucket.
func (s *State) Memories() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.memories)
}

// Insights returns the insight bucket.
func (s *State) Insights() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.insights)
}

// PersonaVoiceSamples returns the voice-sample bucket.
func (s *State) PersonaVoiceSamples() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.samples)
}

// Quotes returns the quote bucket.
func (s *State) Quotes() []model.ContextData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBucket(s.quotes)
}

// AllContextDataIDs returns the ids of every record in any bucket,
// including the user profile, in insertion-independent but stable bucket
// order.
func (s *State) AllContextDataIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.seen))
	if s.userProfile != nil {
		ids = append(ids, s.userProfile.ID)
	}
	for _, bucket := range [][]model.ContextData{
		s.profiles, s.data, s.memories, s.insights, s.samples, s.quotes,
	} {
		for _, d := range bucket {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// BucketSize returns the total number of records across all buckets.
func (s *State) BucketSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// SetTurnHistory stores the full accepted-turn history split into the
// recent window and the older remainder. Called by the turn-history
// enricher only.
func (s *State) SetTurnHistory(all []model.Turn, recentCount int) {
	if recentCount < 0 {
		recentCount = 0
	}
	if recentCount > len(all) {
		recentCount = len(all)
	}
	split := len(all) - recentCount

	s.olderTurns = make([]model.Turn, split)
	copy(s.olderTurns, all[:split])
	s.RecentTurns = make([]model.Turn, recentCount)
	copy(s.RecentTurns, all[split:])

	if len(all) > 0 {
		last := all[len(all)-1]
		s.PreviousTurn = last.Input
		s.PreviousResponse = last.Response
	}
}

// OlderTurns returns accepted turns preceding the recent window, oldest
// first.
func (s *State) OlderTurns() []model.Turn {
	out := make([]model.Turn, len(s.olderTurns))
	copy(out, s.olderTurns)
	return out
}
