// Package qdrant implements [vector.Index] on a Qdrant collection reached
// over gRPC.
//
// Logical point ids ("<type>#<dbID>#full") are not valid Qdrant point ids,
// so every point is stored under a deterministic UUIDv5 derived from its
// logical id; the logical id itself lives in the payload and is what
// callers see in search hits.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/verdandi-labs/reverie/pkg/vector"
)

// Compile-time interface check.
var _ vector.Index = (*Index)(nil)

// Payload field keys.
const (
	fieldPayloadID  = "payload_id"
	fieldJSON       = "json"
	fieldSession    = "session"
	fieldEntryType  = "entry_type"
	fieldDBPK       = "db_pk"
	fieldChunkIndex = "chunk_index"
	fieldSpeaker    = "speaker"
)

// pointNamespace seeds the UUIDv5 derivation of point ids from logical ids.
// Changing it orphans every existing point.
var pointNamespace = uuid.MustParse("1d21a9f6-53fb-4a63-9a79-b74b9c1aef00")

const (
	defaultCollection = "context_data"
	defaultDims       = 3072
	defaultLimit      = 20
)

// Option configures an [Index].
type Option func(*Index)

// WithCollection overrides the collection name (default "context_data").
func WithCollection(name string) Option {
	return func(i *Index) { i.collection = name }
}

// WithDimensions overrides the embedding width the collection is created
// with (default 3072).
func WithDimensions(dims uint64) Option {
	return func(i *Index) { i.dims = dims }
}

// Index is a Qdrant-backed [vector.Index].
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
}

// New connects to the Qdrant instance at host:port and returns an Index.
// The collection is not created here; call [Index.EnsureCollection] first.
func New(host string, port int, apiKey string, useTLS bool, opts ...Option) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: create client: %w", err)
	}

	i := &Index{
		client:     client,
		collection: defaultCollection,
		dims:       defaultDims,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// EnsureCollection implements [vector.Index].
func (i *Index) EnsureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant index: check collection %q: %w", i.collection, err)
	}
	if exists {
		return nil
	}

	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     i.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant index: create collection %q: %w", i.collection, err)
	}
	return nil
}

// UpsertBatch implements [vector.Index].
func (i *Index) UpsertBatch(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(p.Payload.PayloadID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: encodePayload(p.Payload),
		})
	}

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant index: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search implements [vector.Index].
func (i *Index) Search(ctx context.Context, vec []float32, q vector.SearchQuery) ([]vector.Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	req := &qdrant.SearchPoints{
		CollectionName: i.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if q.EntryType != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: fieldEntryType,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: q.EntryType},
						},
					},
				},
			}},
		}
	}

	res, err := i.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant index: search: %w", err)
	}

	hits := make([]vector.Hit, 0, len(res.Result))
	for _, p := range res.Result {
		hits = append(hits, vector.Hit{
			Payload: decodePayload(p.Payload),
			Score:   p.Score,
		})
	}
	return hits, nil
}

// Delete implements [vector.Index].
func (i *Index) Delete(ctx context.Context, payloadIDs []string) error {
	if len(payloadIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(payloadIDs))
	for _, pid := range payloadIDs {
		ids = append(ids, qdrant.NewID(pointID(pid)))
	}

	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant index: delete %d points: %w", len(payloadIDs), err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// pointID maps a logical id to its stable Qdrant UUID.
func pointID(payloadID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(payloadID)).String()
}

func encodePayload(p vector.Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		fieldPayloadID:  qdrant.NewValueString(p.PayloadID),
		fieldJSON:       qdrant.NewValueString(p.JSON),
		fieldSession:    qdrant.NewValueString(p.Session),
		fieldEntryType:  qdrant.NewValueString(p.EntryType),
		fieldDBPK:       qdrant.NewValueInt(p.DBPK),
		fieldChunkIndex: qdrant.NewValueInt(int64(p.ChunkIndex)),
		fieldSpeaker:    qdrant.NewValueString(p.Speaker),
	}
}

func decodePayload(fields map[string]*qdrant.Value) vector.Payload {
	var p vector.Payload
	if fields == nil {
		return p
	}
	p.PayloadID = fields[fieldPayloadID].GetStringValue()
	p.JSON = fields[fieldJSON].GetStringValue()
	p.Session = fields[fieldSession].GetStringValue()
	p.EntryType = fields[fieldEntryType].GetStringValue()
	p.DBPK = fields[fieldDBPK].GetIntegerValue()
	p.ChunkIndex = int(fields[fieldChunkIndex].GetIntegerValue())
	p.Speaker = fields[fieldSpeaker].GetStringValue()
	return p
}
