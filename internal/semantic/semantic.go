// Package semantic connects the context-data catalog to the vector index:
// embedding records, keeping the index in sync, and running multi-type
// retrieval for the enrichment pass.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/embeddings"
	"github.com/verdandi-labs/reverie/pkg/store"
	"github.com/verdandi-labs/reverie/pkg/tokens"
	"github.com/verdandi-labs/reverie/pkg/vector"
)

// DefaultBatchSize is the number of records embedded per batch request
// during a full sync.
const DefaultBatchSize = 96

// QueryTransformer rewrites conversational input into a standalone
// retrieval query. Implementations must fall back to the raw input on
// non-fatal failures.
type QueryTransformer interface {
	Transform(ctx context.Context, input, snippet string) (string, error)
}

// BulkResult summarises a bulk mutation over many records.
type BulkResult struct {
	SuccessCount int
	FailedCount  int

	// Errors holds one message per failed record or batch.
	Errors []string

	// ProcessedItems lists the ids of successfully processed records.
	ProcessedItems []int64
}

// payloadDoc is the JSON document stored alongside each vector point.
type payloadDoc struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Service wraps an embedding provider and a vector index for the
// context-data catalog of one profile.
type Service struct {
	data     store.ContextDataStore
	embedder embeddings.Provider
	index    vector.Index
	counter  *tokens.Counter

	transformer QueryTransformer
	batchSize   int
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// Option configures a [Service].
type Option func(*Service)

// WithQueryTransformer enables LLM query rewriting for
// [Service.SearchWithQueryTransformation].
func WithQueryTransformer(t QueryTransformer) Option {
	return func(s *Service) { s.transformer = t }
}

// WithBatchSize overrides the sync embedding batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a semantic [Service].
func New(data store.ContextDataStore, embedder embeddings.Provider, index vector.Index, counter *tokens.Counter, opts ...Option) *Service {
	s := &Service{
		data:      data,
		embedder:  embedder,
		index:     index,
		counter:   counter,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedData embeds one record's display text, upserts it into the index,
// and stamps the record's index state and cached token count.
func (s *Service) EmbedData(ctx context.Context, d *model.ContextData) error {
	text := d.DisplayText()

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	s.observeEmbedding(ctx, start, err)
	if err != nil {
		return fmt.Errorf("semantic: embed record %d: %w", d.ID, err)
	}

	point := s.buildPoint(d, vec)
	if err := s.index.UpsertBatch(ctx, []vector.Point{point}); err != nil {
		return fmt.Errorf("semantic: upsert record %d: %w", d.ID, err)
	}

	now := time.Now().UTC()
	if err := s.data.MarkEmbedded(ctx, d.ID, point.Payload.PayloadID, now); err != nil {
		return fmt.Errorf("semantic: mark embedded %d: %w", d.ID, err)
	}
	if n := s.counter.Count(text); n > 0 {
		if err := s.data.SetTokenCount(ctx, d.ID, n); err != nil {
			s.logger.Warn("semantic: cache token count", "id", d.ID, "error", err)
		}
	}
	return nil
}

// SearchMultiType embeds the query once and issues one index search per
// requested type. The limits map gives the per-type result cap; types with a
// non-positive limit are skipped. Result order within a type is descending
// score.
func (s *Service) SearchMultiType(ctx context.Context, query string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	s.observeEmbedding(ctx, start, err)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	results := make(map[model.DataType][]vector.Hit, len(limits))
	for _, t := range model.SemanticTypes {
		limit := limits[t]
		if limit <= 0 {
			continue
		}

		searchStart := time.Now()
		hits, err := s.index.Search(ctx, vec, vector.SearchQuery{
			EntryType: string(t),
			Limit:     limit,
		})
		if s.metrics != nil {
			s.metrics.VectorSearchDuration.Record(ctx, time.Since(searchStart).Seconds(),
				metric.WithAttributes(observe.Attr("type", string(t))))
		}
		if err != nil {
			return nil, fmt.Errorf("semantic: search %s: %w", t, err)
		}
		results[t] = hits
	}
	return results, nil
}

// SearchWithQueryTransformation rewrites the query through the configured
// transformer before searching. Without a transformer, or when the rewrite
// fails softly, it behaves exactly like [Service.SearchMultiType].
func (s *Service) SearchWithQueryTransformation(ctx context.Context, query, snippet string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error) {
	if s.transformer != nil {
		rewritten, err := s.transformer.Transform(ctx, query, snippet)
		if err != nil {
			return nil, fmt.Errorf("semantic: transform query: %w", err)
		}
		query = rewritten
	}
	return s.SearchMultiType(ctx, query, limits)
}

// SyncAll embeds every semantic record not yet present in the index, in
// batches. Individual batch failures are recorded in the result and do not
// abort the sync; the error return is reserved for being unable to list
// pending records at all.
func (s *Service) SyncAll(ctx context.Context) (*BulkResult, error) {
	pending, err := s.data.GetSemanticPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic: list pending: %w", err)
	}

	result := &BulkResult{
		Errors:         []string{},
		ProcessedItems: []int64{},
	}
	if len(pending) == 0 {
		return result, nil
	}

	for base := 0; base < len(pending); base += s.batchSize {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		end := base + s.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[base:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].DisplayText()
		}

		start := time.Now()
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		s.observeEmbedding(ctx, start, err)
		if err != nil {
			result.FailedCount += len(batch)
			result.Errors = append(result.Errors, fmt.Sprintf("batch at %d: embed: %v", base, err))
			continue
		}

		points := make([]vector.Point, len(batch))
		for i := range batch {
			points[i] = s.buildPoint(&batch[i], vecs[i])
		}
		if err := s.index.UpsertBatch(ctx, points); err != nil {
			result.FailedCount += len(batch)
			result.Errors = append(result.Errors, fmt.Sprintf("batch at %d: upsert: %v", base, err))
			continue
		}

		now := time.Now().UTC()
		for i := range batch {
			d := &batch[i]
			if err := s.data.MarkEmbedded(ctx, d.ID, points[i].Payload.PayloadID, now); err != nil {
				result.FailedCount++
				result.Errors = append(result.Errors, fmt.Sprintf("record %d: mark embedded: %v", d.ID, err))
				continue
			}
			result.SuccessCount++
			result.ProcessedItems = append(result.ProcessedItems, d.ID)
		}
	}

	s.logger.Info("semantic sync complete",
		"pending", len(pending),
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount)
	return result, nil
}

// buildPoint converts a record and its vector into an index point.
func (s *Service) buildPoint(d *model.ContextData, vec []float32) vector.Point {
	doc, _ := json.Marshal(payloadDoc{ID: d.ID, Name: d.Name, Type: string(d.Type)})
	return vector.Point{
		Payload: vector.Payload{
			PayloadID:  d.VectorPointID(),
			JSON:       string(doc),
			Session:    sessionTag(d.SourceSessionID),
			EntryType:  string(d.Type),
			DBPK:       d.ID,
			ChunkIndex: 0,
			Speaker:    d.Speaker,
		},
		Vector: vec,
	}
}

// sessionTag renders the session scope for a payload. Catalog entries
// (SourceSessionID 0) carry an empty tag.
func sessionTag(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func (s *Service) observeEmbedding(ctx context.Context, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.embedder.ModelID(), "embedding")
	}
}
