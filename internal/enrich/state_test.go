package enrich

import (
	"sync"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/model"
)

func testState() *State {
	return NewState(
		&model.Session{ID: 1, ProfileID: 1, IsActive: true},
		&model.Turn{ID: 10, SessionID: 1, Input: "hello"},
		"Reverie",
	)
}

func record(id int64, t model.DataType) model.ContextData {
	return model.ContextData{ID: id, Type: t, Name: "rec", Content: "body"}
}

// TestState_Routing verifies each type lands in its own bucket.
func TestState_Routing(t *testing.T) {
	s := testState()

	s.Add(record(1, model.TypeGeneric))
	s.Add(record(2, model.TypeMemory))
	s.Add(record(3, model.TypeInsight))
	s.Add(record(4, model.TypePersonaVoiceSample))
	s.Add(record(5, model.TypeQuote))
	s.Add(record(6, model.TypeCharacterProfile))

	if len(s.Data()) != 1 || len(s.Memories()) != 1 || len(s.Insights()) != 1 ||
		len(s.PersonaVoiceSamples()) != 1 || len(s.Quotes()) != 1 ||
		len(s.CharacterProfiles()) != 1 {
		t.Errorf("bucket sizes wrong: %d total", s.BucketSize())
	}
}

// TestState_DedupAcrossBuckets verifies an id can only ever appear once,
// no matter which bucket tries to claim it.
func TestState_DedupAcrossBuckets(t *testing.T) {
	s := testState()

	if !s.Add(record(1, model.TypeMemory)) {
		t.Fatal("first add rejected")
	}
	if s.Add(record(1, model.TypeMemory)) {
		t.Error("same-bucket duplicate accepted")
	}
	if s.Add(record(1, model.TypeQuote)) {
		t.Error("cross-bucket duplicate accepted")
	}

	// Dedup law: total ids across buckets equals the sum of bucket sizes.
	total := len(s.Data()) + len(s.Memories()) + len(s.Insights()) +
		len(s.PersonaVoiceSamples()) + len(s.Quotes()) + len(s.CharacterProfiles())
	if total != s.BucketSize() {
		t.Errorf("bucket sum %d != distinct ids %d", total, s.BucketSize())
	}
}

// TestState_UserProfile verifies the user profile participates in dedup
// and is kept out of the character-profile bucket.
func TestState_UserProfile(t *testing.T) {
	s := testState()

	user := record(1, model.TypeCharacterProfile)
	user.IsUser = true
	if !s.SetUserProfile(&user) {
		t.Fatal("SetUserProfile rejected")
	}
	if s.Add(user) {
		t.Error("user profile accepted into a bucket")
	}
	if s.Add(record(1, model.TypeMemory)) {
		t.Error("user-profile id reusable in another bucket")
	}
	if got := s.UserProfile(); got == nil || got.ID != 1 {
		t.Errorf("UserProfile() = %v", got)
	}
	if len(s.CharacterProfiles()) != 0 {
		t.Errorf("profiles bucket = %v, want empty", s.CharacterProfiles())
	}
}

// TestState_ConcurrentAdd verifies concurrent insertion of overlapping ids
// keeps the dedup invariant.
func TestState_ConcurrentAdd(t *testing.T) {
	s := testState()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := int64(1); id <= 100; id++ {
				s.Add(record(id, model.TypeMemory))
				s.Add(record(id, model.TypeQuote))
			}
		}()
	}
	wg.Wait()

	if s.BucketSize() != 100 {
		t.Errorf("distinct ids = %d, want 100", s.BucketSize())
	}
	if got := len(s.Memories()) + len(s.Quotes()); got != 100 {
		t.Errorf("bucket sum = %d, want 100", got)
	}
}

// TestState_AllContextDataIDs verifies the id roster covers every bucket
// and the user profile.
func TestState_AllContextDataIDs(t *testing.T) {
	s := testState()
	user := record(1, model.TypeCharacterProfile)
	user.IsUser = true
	s.SetUserProfile(&user)
	s.Add(record(2, model.TypeMemory))
	s.Add(record(3, model.TypeQuote))

	ids := s.AllContextDataIDs()
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3", ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []int64{1, 2, 3} {
		if !seen[want] {
			t.Errorf("id %d missing from %v", want, ids)
		}
	}
}

// TestState_SetTurnHistory verifies the recent/older split and the
// previous-turn scalars.
func TestState_SetTurnHistory(t *testing.T) {
	s := testState()
	all := []model.Turn{
		{ID: 1, Input: "one", Response: "r1"},
		{ID: 2, Input: "two", Response: "r2"},
		{ID: 3, Input: "three", Response: "r3"},
		{ID: 4, Input: "four", Response: "r4"},
	}
	s.SetTurnHistory(all, 2)

	if len(s.RecentTurns) != 2 || s.RecentTurns[0].ID != 3 {
		t.Errorf("recent = %v, want turns 3,4", s.RecentTurns)
	}
	older := s.OlderTurns()
	if len(older) != 2 || older[0].ID != 1 {
		t.Errorf("older = %v, want turns 1,2", older)
	}
	if s.PreviousTurn != "four" || s.PreviousResponse != "r4" {
		t.Errorf("previous = %q/%q", s.PreviousTurn, s.PreviousResponse)
	}
}

// TestState_SetTurnHistoryShort verifies a window larger than the history
// keeps everything recent.
func TestState_SetTurnHistoryShort(t *testing.T) {
	s := testState()
	s.SetTurnHistory([]model.Turn{{ID: 1, Input: "only", Response: "r"}}, 10)

	if len(s.RecentTurns) != 1 || len(s.OlderTurns()) != 0 {
		t.Errorf("recent=%d older=%d, want 1/0", len(s.RecentTurns), len(s.OlderTurns()))
	}
}
