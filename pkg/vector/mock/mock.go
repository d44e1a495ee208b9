// Package mock provides an in-memory test double for [vector.Index].
package mock

import (
	"context"
	"sync"

	"github.com/verdandi-labs/reverie/pkg/vector"
)

// Compile-time interface check.
var _ vector.Index = (*Index)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Index is a configurable test double for [vector.Index]. It records calls
// and keeps upserted points in memory; SearchResult, when set, overrides the
// in-memory lookup entirely.
type Index struct {
	mu     sync.Mutex
	calls  []Call
	points map[string]vector.Point

	EnsureCollectionErr error
	UpsertBatchErr      error

	// SearchResult is returned verbatim by Search (after EntryType
	// filtering and Limit truncation). SearchByType, when non-nil, takes
	// precedence for queries that name a type.
	SearchResult []vector.Hit
	SearchByType map[string][]vector.Hit
	SearchErr    error

	DeleteErr error
}

func (m *Index) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (m *Index) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored points without altering response
// configuration.
func (m *Index) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.points = nil
}

// Points returns the currently stored points keyed by logical id.
func (m *Index) Points() map[string]vector.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]vector.Point, len(m.points))
	for k, v := range m.points {
		out[k] = v
	}
	return out
}

// EnsureCollection implements [vector.Index].
func (m *Index) EnsureCollection(_ context.Context) error {
	m.record("EnsureCollection")
	return m.EnsureCollectionErr
}

// UpsertBatch implements [vector.Index].
func (m *Index) UpsertBatch(_ context.Context, points []vector.Point) error {
	m.record("UpsertBatch", points)
	if m.UpsertBatchErr != nil {
		return m.UpsertBatchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		m.points = make(map[string]vector.Point)
	}
	for _, p := range points {
		m.points[p.Payload.PayloadID] = p
	}
	return nil
}

// Search implements [vector.Index].
func (m *Index) Search(_ context.Context, vec []float32, q vector.SearchQuery) ([]vector.Hit, error) {
	m.record("Search", vec, q)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	hits := m.SearchResult
	if q.EntryType != "" && m.SearchByType != nil {
		hits = m.SearchByType[q.EntryType]
	} else if q.EntryType != "" {
		filtered := make([]vector.Hit, 0, len(hits))
		for _, h := range hits {
			if h.Payload.EntryType == q.EntryType {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]vector.Hit, len(hits))
	copy(out, hits)
	return out, nil
}

// Delete implements [vector.Index].
func (m *Index) Delete(_ context.Context, payloadIDs []string) error {
	m.record("Delete", payloadIDs)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range payloadIDs {
		delete(m.points, id)
	}
	return nil
}
