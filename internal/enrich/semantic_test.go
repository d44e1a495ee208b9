package enrich

import (
	"context"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/model"
	storemock "github.com/verdandi-labs/reverie/pkg/store/mock"
	"github.com/verdandi-labs/reverie/pkg/vector"
)

// fakeSearcher returns canned hits and records which entry point ran.
type fakeSearcher struct {
	hits        map[model.DataType][]vector.Hit
	err         error
	transformed bool
}

func (f *fakeSearcher) SearchMultiType(_ context.Context, query string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error) {
	return f.hits, f.err
}

func (f *fakeSearcher) SearchWithQueryTransformation(_ context.Context, query, snippet string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error) {
	f.transformed = true
	return f.hits, f.err
}

func hitFor(rec model.ContextData) vector.Hit {
	return vector.Hit{
		Payload: vector.Payload{
			PayloadID: rec.VectorPointID(),
			EntryType: string(rec.Type),
			DBPK:      rec.ID,
		},
		Score: 0.9,
	}
}

func byIDStore(recs ...model.ContextData) *storemock.ContextDataStore {
	byID := make(map[int64]*model.ContextData, len(recs))
	for i := range recs {
		byID[recs[i].ID] = &recs[i]
	}
	return &storemock.ContextDataStore{ByID: byID}
}

// TestSemanticEnricher_AddsHits verifies retrieved records land in their
// typed buckets.
func TestSemanticEnricher_AddsHits(t *testing.T) {
	mem := model.ContextData{ID: 1, Type: model.TypeMemory, Content: "short"}
	quote := model.ContextData{ID: 2, Type: model.TypeQuote, Content: "short"}
	searcher := &fakeSearcher{hits: map[model.DataType][]vector.Hit{
		model.TypeMemory: {hitFor(mem)},
		model.TypeQuote:  {hitFor(quote)},
	}}
	e := NewSemanticDataEnricher(searcher, byIDStore(mem, quote), SemanticConfig{
		TokenQuotas: map[model.DataType]int{
			model.TypeMemory: 100,
			model.TypeQuote:  100,
		},
	}, nil, nil)

	s := testState()
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(s.Memories()) != 1 || len(s.Quotes()) != 1 {
		t.Errorf("memories=%d quotes=%d, want 1/1", len(s.Memories()), len(s.Quotes()))
	}
}

// TestSemanticEnricher_DropsDuplicates verifies hits already present in
// any bucket are skipped.
func TestSemanticEnricher_DropsDuplicates(t *testing.T) {
	mem := model.ContextData{ID: 1, Type: model.TypeMemory, Content: "short"}
	searcher := &fakeSearcher{hits: map[model.DataType][]vector.Hit{
		model.TypeMemory: {hitFor(mem)},
	}}
	e := NewSemanticDataEnricher(searcher, byIDStore(mem), SemanticConfig{
		TokenQuotas: map[model.DataType]int{model.TypeMemory: 100},
	}, nil, nil)

	s := testState()
	s.Add(mem)
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(s.Memories()) != 1 {
		t.Errorf("memories = %d, want 1 (duplicate dropped)", len(s.Memories()))
	}
}

// TestSemanticEnricher_QuotaAccounting verifies inclusion stops once the
// cumulative cost would exceed the type's quota, in returned order.
func TestSemanticEnricher_QuotaAccounting(t *testing.T) {
	a := model.ContextData{ID: 1, Type: model.TypeMemory, Content: "aaaaaaaaaa"} // 10
	b := model.ContextData{ID: 2, Type: model.TypeMemory, Content: "bbbbbbbbbb"} // 10
	c := model.ContextData{ID: 3, Type: model.TypeMemory, Content: "cccccccccc"} // 10
	searcher := &fakeSearcher{hits: map[model.DataType][]vector.Hit{
		model.TypeMemory: {hitFor(a), hitFor(b), hitFor(c)},
	}}
	e := NewSemanticDataEnricher(searcher, byIDStore(a, b, c), SemanticConfig{
		TokenQuotas: map[model.DataType]int{model.TypeMemory: 25},
	}, nil, nil)

	s := testState()
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	mems := s.Memories()
	if len(mems) != 2 {
		t.Fatalf("memories = %v, want first two within quota", mems)
	}
	if mems[0].ID != 1 || mems[1].ID != 2 {
		t.Errorf("wrong candidates included: %v", mems)
	}
}

// TestSemanticEnricher_TokenCountPreferred verifies a cached token count
// overrides the content length for quota accounting.
func TestSemanticEnricher_TokenCountPreferred(t *testing.T) {
	big := model.ContextData{ID: 1, Type: model.TypeMemory, Content: "tiny", TokenCount: 1000}
	searcher := &fakeSearcher{hits: map[model.DataType][]vector.Hit{
		model.TypeMemory: {hitFor(big)},
	}}
	e := NewSemanticDataEnricher(searcher, byIDStore(big), SemanticConfig{
		TokenQuotas: map[model.DataType]int{model.TypeMemory: 50},
	}, nil, nil)

	s := testState()
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(s.Memories()) != 0 {
		t.Errorf("record over token quota was included")
	}
}

// TestSemanticEnricher_SkipConditions verifies the pass is skipped for
// blank input and for all-zero quotas.
func TestSemanticEnricher_SkipConditions(t *testing.T) {
	searcher := &fakeSearcher{}

	s := testState()
	s.CurrentTurn.Input = "   "
	e := NewSemanticDataEnricher(searcher, &storemock.ContextDataStore{}, SemanticConfig{
		TokenQuotas: map[model.DataType]int{model.TypeMemory: 100},
	}, nil, nil)
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	s2 := testState()
	zero := NewSemanticDataEnricher(searcher, &storemock.ContextDataStore{}, SemanticConfig{}, nil, nil)
	if err := zero.Enrich(context.Background(), s2); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if s2.BucketSize() != 0 {
		t.Errorf("zero-quota pass added records")
	}
}

// TestSemanticEnricher_UsesTransformation verifies the configuration flag
// selects the rewrite entry point.
func TestSemanticEnricher_UsesTransformation(t *testing.T) {
	searcher := &fakeSearcher{hits: map[model.DataType][]vector.Hit{}}
	e := NewSemanticDataEnricher(searcher, &storemock.ContextDataStore{}, SemanticConfig{
		TokenQuotas:            map[model.DataType]int{model.TypeMemory: 100},
		UseQueryTransformation: true,
	}, nil, nil)

	if err := e.Enrich(context.Background(), testState()); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if !searcher.transformed {
		t.Errorf("transformation entry point not used")
	}
}
