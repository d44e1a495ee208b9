package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
	"github.com/verdandi-labs/reverie/pkg/vector"
)

// semanticFetchLimit caps how many candidates one type's search returns;
// the token quota then decides how many actually make it into the bucket.
const semanticFetchLimit = 20

// Searcher is the slice of the semantic service the enricher consumes.
type Searcher interface {
	SearchMultiType(ctx context.Context, query string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error)
	SearchWithQueryTransformation(ctx context.Context, query, snippet string, limits map[model.DataType]int) (map[model.DataType][]vector.Hit, error)
}

// SemanticConfig controls the semantic enrichment pass.
type SemanticConfig struct {
	// TokenQuotas gives the per-type inclusion budget. A type with a
	// non-positive quota is not searched at all.
	TokenQuotas map[model.DataType]int

	// UseQueryTransformation routes the query through the LLM rewrite
	// before embedding.
	UseQueryTransformation bool
}

// SemanticDataEnricher retrieves semantically similar records for each
// embeddable type and appends them to the typed buckets, subject to
// cross-bucket deduplication and per-type token quotas.
type SemanticDataEnricher struct {
	searcher Searcher
	data     store.ContextDataStore
	cfg      SemanticConfig
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// NewSemanticDataEnricher creates a [SemanticDataEnricher]. A nil logger
// defaults to [slog.Default].
func NewSemanticDataEnricher(searcher Searcher, data store.ContextDataStore, cfg SemanticConfig, logger *slog.Logger, metrics *observe.Metrics) *SemanticDataEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticDataEnricher{
		searcher: searcher,
		data:     data,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

func (e *SemanticDataEnricher) Name() string { return "semantic" }

func (e *SemanticDataEnricher) Enrich(ctx context.Context, s *State) error {
	if !ready(s) {
		return nil
	}
	if strings.TrimSpace(s.CurrentTurn.Input) == "" {
		return nil
	}

	limits := make(map[model.DataType]int)
	for _, t := range model.SemanticTypes {
		if e.cfg.TokenQuotas[t] > 0 {
			limits[t] = semanticFetchLimit
		}
	}
	if len(limits) == 0 {
		return nil
	}

	var (
		results map[model.DataType][]vector.Hit
		err     error
	)
	if e.cfg.UseQueryTransformation {
		results, err = e.searcher.SearchWithQueryTransformation(ctx, s.CurrentTurn.Input, s.PreviousResponse, limits)
	} else {
		results, err = e.searcher.SearchMultiType(ctx, s.CurrentTurn.Input, limits)
	}
	if err != nil {
		return fmt.Errorf("semantic: search: %w", err)
	}

	for _, t := range model.SemanticTypes {
		e.includeHits(ctx, s, t, results[t], e.cfg.TokenQuotas[t])
	}
	return nil
}

// includeHits walks one type's candidates in score order and adds them to
// the state until the cumulative size would exceed the type's quota. Hits
// already present in any bucket are dropped.
func (e *SemanticDataEnricher) includeHits(ctx context.Context, s *State, t model.DataType, hits []vector.Hit, quota int) {
	if quota <= 0 || len(hits) == 0 {
		return
	}

	used := 0
	for _, hit := range hits {
		if s.Has(hit.Payload.DBPK) {
			e.drop(ctx, "dedup")
			continue
		}

		rec, err := e.data.GetByID(ctx, hit.Payload.DBPK)
		if err != nil {
			e.logger.Warn("semantic: resolve hit",
				"payload_id", hit.Payload.PayloadID, "error", err)
			continue
		}

		cost := rec.TokenCount
		if cost <= 0 {
			cost = len(rec.Content)
		}
		if used+cost > quota {
			e.drop(ctx, "quota")
			break
		}

		if s.Add(*rec) {
			used += cost
			if e.metrics != nil {
				e.metrics.SemanticHits.Add(ctx, 1,
					metric.WithAttributes(observe.Attr("type", string(t))))
			}
		}
	}
}

func (e *SemanticDataEnricher) drop(ctx context.Context, reason string) {
	if e.metrics != nil {
		e.metrics.SemanticDrops.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("reason", reason)))
	}
}
