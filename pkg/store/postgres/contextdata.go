package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// contextDataColumns is the canonical SELECT column list for context_data.
const contextDataColumns = `
	id, profile_id, name, content, summary, core_facts, display,
	type, availability, is_user, is_enabled, is_archived, sort_order,
	use_next_turn_only, use_every_turn, previous_availability,
	trigger_keywords, trigger_lookback_turns, trigger_min_match,
	vector_id, in_vector_db, embedding_updated_at,
	source_session_id, speaker, subtype, nonverbal_behavior,
	relevance_score, relevance_reason, tags,
	cooldown_turns, used_last_on_turn_id, usage_count, trigger_count,
	last_used_at, last_triggered_at, token_count, created_at, updated_at`

// GetUserProfile implements [store.ContextDataStore].
func (s *Scoped) GetUserProfile(ctx context.Context) (*model.ContextData, error) {
	q := `SELECT` + contextDataColumns + `
		FROM   context_data
		WHERE  profile_id = $1
		  AND  type = $2
		  AND  is_user
		  AND  is_enabled
		  AND  NOT is_archived
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, s.profileID, model.TypeCharacterProfile)
	if err != nil {
		return nil, fmt.Errorf("context data: get user profile: %w", err)
	}
	d, err := pgx.CollectOneRow(rows, scanContextData)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("context data: get user profile: %w", err)
	}
	return &d, nil
}

// GetAlwaysOn implements [store.ContextDataStore].
func (s *Scoped) GetAlwaysOn(ctx context.Context, q store.ContextDataQuery) ([]model.ContextData, error) {
	return s.byAvailability(ctx, model.AvailAlwaysOn, q.Type, "")
}

// GetActiveManual implements [store.ContextDataStore].
func (s *Scoped) GetActiveManual(ctx context.Context, q store.ContextDataQuery) ([]model.ContextData, error) {
	return s.byAvailability(ctx, model.AvailManual, q.Type,
		"AND (use_next_turn_only OR use_every_turn)")
}

// GetTriggerCandidates implements [store.ContextDataStore].
func (s *Scoped) GetTriggerCandidates(ctx context.Context) ([]model.ContextData, error) {
	return s.byAvailability(ctx, model.AvailTrigger, "",
		"AND trigger_keywords <> ''")
}

// GetSemanticPending implements [store.ContextDataStore].
func (s *Scoped) GetSemanticPending(ctx context.Context) ([]model.ContextData, error) {
	return s.byAvailability(ctx, model.AvailSemantic, "",
		"AND NOT in_vector_db")
}

// byAvailability runs the shared enabled/not-archived availability query with
// an optional type filter and an extra condition fragment.
func (s *Scoped) byAvailability(ctx context.Context, a model.Availability, t model.DataType, extra string) ([]model.ContextData, error) {
	args := []any{s.profileID, a}
	typeCond := ""
	if t != "" {
		args = append(args, t)
		typeCond = fmt.Sprintf("AND type = $%d", len(args))
	}

	q := fmt.Sprintf(`SELECT`+contextDataColumns+`
		FROM   context_data
		WHERE  profile_id = $1
		  AND  availability = $2
		  AND  is_enabled
		  AND  NOT is_archived
		  %s %s
		ORDER  BY type, sort_order, id`, typeCond, extra)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("context data: query %s: %w", a, err)
	}
	items, err := pgx.CollectRows(rows, scanContextData)
	if err != nil {
		return nil, fmt.Errorf("context data: scan %s rows: %w", a, err)
	}
	if items == nil {
		items = []model.ContextData{}
	}
	return items, nil
}

// GetByID implements [store.ContextDataStore].
func (s *Scoped) GetByID(ctx context.Context, id int64) (*model.ContextData, error) {
	q := `SELECT` + contextDataColumns + `
		FROM   context_data
		WHERE  id = $1 AND profile_id = $2`

	rows, err := s.pool.Query(ctx, q, id, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("context data: get %d: %w", id, err)
	}
	d, err := pgx.CollectOneRow(rows, scanContextData)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context data: get %d: %w", id, err)
	}
	return &d, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Manual-flag transitions
// ─────────────────────────────────────────────────────────────────────────────

// SetUseNextTurn implements [store.ContextDataStore].
func (s *Scoped) SetUseNextTurn(ctx context.Context, id int64) error {
	return s.setManualFlag(ctx, id, "use_next_turn_only = TRUE")
}

// SetUseEveryTurn implements [store.ContextDataStore].
func (s *Scoped) SetUseEveryTurn(ctx context.Context, id int64, on bool) error {
	if on {
		return s.setManualFlag(ctx, id, "use_every_turn = TRUE")
	}

	// Turning off: clear the flag, and restore the saved availability when no
	// manual flag remains.
	const q = `
		UPDATE context_data SET
		    use_every_turn        = FALSE,
		    availability          = CASE WHEN NOT use_next_turn_only AND previous_availability <> ''
		                                 THEN previous_availability ELSE availability END,
		    previous_availability = CASE WHEN NOT use_next_turn_only
		                                 THEN '' ELSE previous_availability END,
		    updated_at            = now()
		WHERE  id = $1 AND profile_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, s.profileID)
	if err != nil {
		return fmt.Errorf("context data: clear use-every-turn %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// setManualFlag turns on one manual flag, saving the current availability in
// previous_availability when the record is entering manual mode. The flagSet
// fragment must be a constant assignment, never caller input.
func (s *Scoped) setManualFlag(ctx context.Context, id int64, flagSet string) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := model.ValidateCombination(d.Type, model.AvailManual); err != nil {
		return fmt.Errorf("context data %d: %w", id, err)
	}

	q := fmt.Sprintf(`
		UPDATE context_data SET
		    %s,
		    previous_availability = CASE WHEN availability <> 'manual'
		                                 THEN availability ELSE previous_availability END,
		    availability          = 'manual',
		    updated_at            = now()
		WHERE  id = $1 AND profile_id = $2`, flagSet)

	if _, err := s.pool.Exec(ctx, q, id, s.profileID); err != nil {
		return fmt.Errorf("context data: set manual flag %d: %w", id, err)
	}
	return nil
}

// ClearManualFlags implements [store.ContextDataStore].
func (s *Scoped) ClearManualFlags(ctx context.Context, id int64) error {
	const q = `
		UPDATE context_data SET
		    use_next_turn_only    = FALSE,
		    use_every_turn        = FALSE,
		    availability          = CASE WHEN previous_availability <> ''
		                                 THEN previous_availability ELSE availability END,
		    previous_availability = '',
		    updated_at            = now()
		WHERE  id = $1 AND profile_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, s.profileID)
	if err != nil {
		return fmt.Errorf("context data: clear manual flags %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// ProcessPostTurn implements [store.ContextDataStore]. One-shot records drop
// out of manual mode unless use_every_turn keeps them there. Running it twice
// in a row is a no-op the second time.
func (s *Scoped) ProcessPostTurn(ctx context.Context) error {
	const q = `
		UPDATE context_data SET
		    use_next_turn_only    = FALSE,
		    availability          = CASE WHEN NOT use_every_turn AND previous_availability <> ''
		                                 THEN previous_availability ELSE availability END,
		    previous_availability = CASE WHEN NOT use_every_turn
		                                 THEN '' ELSE previous_availability END,
		    updated_at            = now()
		WHERE  profile_id = $1 AND use_next_turn_only`

	if _, err := s.pool.Exec(ctx, q, s.profileID); err != nil {
		return fmt.Errorf("context data: process post turn: %w", err)
	}
	return nil
}

// ChangeAvailability implements [store.ContextDataStore].
func (s *Scoped) ChangeAvailability(ctx context.Context, id int64, a model.Availability) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := model.ValidateCombination(d.Type, a); err != nil {
		return fmt.Errorf("context data %d: %w", id, err)
	}

	// Leaving manual zeroes the manual bookkeeping.
	const q = `
		UPDATE context_data SET
		    availability          = $3,
		    use_next_turn_only    = CASE WHEN $3 <> 'manual' THEN FALSE ELSE use_next_turn_only END,
		    use_every_turn        = CASE WHEN $3 <> 'manual' THEN FALSE ELSE use_every_turn END,
		    previous_availability = CASE WHEN $3 <> 'manual' THEN '' ELSE previous_availability END,
		    updated_at            = now()
		WHERE  id = $1 AND profile_id = $2`

	if _, err := s.pool.Exec(ctx, q, id, s.profileID, a); err != nil {
		return fmt.Errorf("context data: change availability %d: %w", id, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Counters and curation metadata
// ─────────────────────────────────────────────────────────────────────────────

// RecordUsage implements [store.ContextDataStore]. The whole batch is one
// round trip; unknown ids are silently skipped.
func (s *Scoped) RecordUsage(ctx context.Context, turnID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE context_data SET
		    usage_count          = usage_count + 1,
		    used_last_on_turn_id = $3,
		    last_used_at         = now(),
		    updated_at           = now()
		WHERE  profile_id = $1 AND id = ANY($2)`

	if _, err := s.pool.Exec(ctx, q, s.profileID, ids, turnID); err != nil {
		return fmt.Errorf("context data: record usage: %w", err)
	}
	return nil
}

// RecordTriggerFired implements [store.ContextDataStore].
func (s *Scoped) RecordTriggerFired(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE context_data SET
		    usage_count       = usage_count + 1,
		    trigger_count     = trigger_count + 1,
		    last_triggered_at = now(),
		    updated_at        = now()
		WHERE  profile_id = $1 AND id = ANY($2)`

	if _, err := s.pool.Exec(ctx, q, s.profileID, ids); err != nil {
		return fmt.Errorf("context data: record trigger fired: %w", err)
	}
	return nil
}

// MarkEmbedded implements [store.ContextDataStore].
func (s *Scoped) MarkEmbedded(ctx context.Context, id int64, vectorID string, at time.Time) error {
	const q = `
		UPDATE context_data SET
		    vector_id            = $3,
		    in_vector_db         = TRUE,
		    embedding_updated_at = $4,
		    updated_at           = now()
		WHERE  id = $1 AND profile_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, s.profileID, vectorID, at)
	if err != nil {
		return fmt.Errorf("context data: mark embedded %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// SetTags implements [store.ContextDataStore].
func (s *Scoped) SetTags(ctx context.Context, id int64, tags []string, relevanceScore int, relevanceReason string) error {
	const q = `
		UPDATE context_data SET
		    tags             = $3,
		    relevance_score  = $4,
		    relevance_reason = $5,
		    updated_at       = now()
		WHERE  id = $1 AND profile_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, s.profileID, tags, relevanceScore, relevanceReason)
	if err != nil {
		return fmt.Errorf("context data: set tags %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// SetTokenCount implements [store.ContextDataStore].
func (s *Scoped) SetTokenCount(ctx context.Context, id int64, tokens int) error {
	const q = `
		UPDATE context_data SET token_count = $3, updated_at = now()
		WHERE  id = $1 AND profile_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, s.profileID, tokens)
	if err != nil {
		return fmt.Errorf("context data: set token count %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context data %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// scanContextData scans one context_data row into a model value.
func scanContextData(row pgx.CollectableRow) (model.ContextData, error) {
	var (
		d                  model.ContextData
		embeddingUpdatedAt *time.Time
		lastUsedAt         *time.Time
		lastTriggeredAt    *time.Time
	)
	err := row.Scan(
		&d.ID, &d.ProfileID, &d.Name, &d.Content, &d.Summary, &d.CoreFacts, &d.Display,
		&d.Type, &d.Availability, &d.IsUser, &d.IsEnabled, &d.IsArchived, &d.SortOrder,
		&d.UseNextTurnOnly, &d.UseEveryTurn, &d.PreviousAvailability,
		&d.TriggerKeywords, &d.TriggerLookbackTurns, &d.TriggerMinMatchCount,
		&d.VectorID, &d.InVectorDB, &embeddingUpdatedAt,
		&d.SourceSessionID, &d.Speaker, &d.Subtype, &d.NonverbalBehavior,
		&d.RelevanceScore, &d.RelevanceReason, &d.Tags,
		&d.CooldownTurns, &d.UsedLastOnTurnID, &d.UsageCount, &d.TriggerCount,
		&lastUsedAt, &lastTriggeredAt, &d.TokenCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.ContextData{}, err
	}
	if embeddingUpdatedAt != nil {
		d.EmbeddingUpdatedAt = *embeddingUpdatedAt
	}
	if lastUsedAt != nil {
		d.LastUsedAt = *lastUsedAt
	}
	if lastTriggeredAt != nil {
		d.LastTriggeredAt = *lastTriggeredAt
	}
	return d, nil
}
