// Package vector defines the semantic-index capability consumed by the
// enrichment pipeline.
//
// The index stores one embedding per context-data record under a logical id
// of the form "<type>#<dbID>#full". Implementations live in subpackages
// (qdrant, mock); callers depend only on [Index].
package vector

import "context"

// Payload is the metadata stored alongside every embedding. It carries
// enough to resolve a hit back to its catalog record without a second
// round trip for display-only uses.
type Payload struct {
	// PayloadID is the logical point id, "<type>#<dbID>#full".
	PayloadID string

	// JSON is the serialized display form of the record at embed time.
	JSON string

	// Session scopes session-bound entries; empty for catalog entries.
	Session string

	// EntryType is the context-data type the point belongs to.
	EntryType string

	// DBPK is the primary key of the catalog record.
	DBPK int64

	// ChunkIndex is 0 for whole-record embeddings.
	ChunkIndex int

	// Speaker attributes quotes and voice samples; empty otherwise.
	Speaker string
}

// Point is an embedding plus its payload, ready for upsert.
type Point struct {
	Payload Payload
	Vector  []float32
}

// Hit is a scored search result.
type Hit struct {
	Payload Payload
	Score   float32
}

// SearchQuery narrows a similarity search.
type SearchQuery struct {
	// EntryType restricts hits to one context-data type when non-empty.
	EntryType string

	// Limit caps the number of hits. Zero means the implementation
	// default.
	Limit int
}

// Index is a similarity index over context-data embeddings.
//
// All methods are safe for concurrent use.
type Index interface {
	// EnsureCollection creates the backing collection if it does not
	// exist. Idempotent.
	EnsureCollection(ctx context.Context) error

	// UpsertBatch writes points in one request, replacing points with the
	// same logical id. A nil or empty batch is a no-op.
	UpsertBatch(ctx context.Context, points []Point) error

	// Search returns the nearest points to vec, best first.
	Search(ctx context.Context, vec []float32, q SearchQuery) ([]Hit, error)

	// Delete removes the points with the given logical ids. Unknown ids
	// are ignored.
	Delete(ctx context.Context, payloadIDs []string) error
}
