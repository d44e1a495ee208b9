package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdandi-labs/reverie/pkg/model"
)

// ─────────────────────────────────────────────────────────────────────────────
// Flags
// ─────────────────────────────────────────────────────────────────────────────

// ActiveOrConstant implements [store.FlagStore]. Active flags sort before
// constant-only ones; within each group the most recently touched comes
// first.
func (s *Scoped) ActiveOrConstant(ctx context.Context) ([]model.Flag, error) {
	const q = `
		SELECT id, profile_id, value, active, constant, last_used_at, created_at
		FROM   flags
		WHERE  profile_id = $1 AND (active OR constant)
		ORDER  BY active DESC, COALESCE(last_used_at, created_at) DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("flags: active or constant: %w", err)
	}
	flags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Flag, error) {
		var (
			f          model.Flag
			lastUsedAt *time.Time
		)
		if err := row.Scan(&f.ID, &f.ProfileID, &f.Value, &f.Active, &f.Constant, &lastUsedAt, &f.CreatedAt); err != nil {
			return model.Flag{}, err
		}
		if lastUsedAt != nil {
			f.LastUsedAt = *lastUsedAt
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("flags: scan rows: %w", err)
	}
	if flags == nil {
		flags = []model.Flag{}
	}
	return flags, nil
}

// Consume implements [store.FlagStore]. One-shot flags flip to inactive;
// constant flags are only stamped.
func (s *Scoped) Consume(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE flags SET
		    active       = CASE WHEN constant THEN active ELSE FALSE END,
		    last_used_at = now()
		WHERE  profile_id = $1 AND id = ANY($2)`

	if _, err := s.pool.Exec(ctx, q, s.profileID, ids); err != nil {
		return fmt.Errorf("flags: consume: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// System messages
// ─────────────────────────────────────────────────────────────────────────────

// ActivePersona implements [store.SystemMessageStore]. When several persona
// versions are active the newest version wins.
func (s *Scoped) ActivePersona(ctx context.Context) (*model.SystemMessage, error) {
	const q = `
		SELECT id, profile_id, name, type, content, version, is_active, created_at
		FROM   system_messages
		WHERE  profile_id = $1 AND type = $2 AND is_active
		ORDER  BY version DESC, id DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, s.profileID, model.SystemPersona)
	if err != nil {
		return nil, fmt.Errorf("system messages: active persona: %w", err)
	}
	m, err := pgx.CollectOneRow(rows, scanSystemMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("system messages: active persona: %w", err)
	}
	return &m, nil
}

// ActivePerceptions implements [store.SystemMessageStore].
func (s *Scoped) ActivePerceptions(ctx context.Context) ([]model.SystemMessage, error) {
	const q = `
		SELECT id, profile_id, name, type, content, version, is_active, created_at
		FROM   system_messages
		WHERE  profile_id = $1 AND type = $2 AND is_active
		ORDER  BY name, version DESC, id`

	rows, err := s.pool.Query(ctx, q, s.profileID, model.SystemPerception)
	if err != nil {
		return nil, fmt.Errorf("system messages: active perceptions: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanSystemMessage)
	if err != nil {
		return nil, fmt.Errorf("system messages: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []model.SystemMessage{}
	}
	return msgs, nil
}

// TechnicalByName implements [store.SystemMessageStore].
func (s *Scoped) TechnicalByName(ctx context.Context, name string) (*model.SystemMessage, error) {
	const q = `
		SELECT id, profile_id, name, type, content, version, is_active, created_at
		FROM   system_messages
		WHERE  profile_id = $1 AND type = $2 AND name = $3 AND is_active
		ORDER  BY version DESC, id DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, s.profileID, model.SystemTechnical, name)
	if err != nil {
		return nil, fmt.Errorf("system messages: technical %q: %w", name, err)
	}
	m, err := pgx.CollectOneRow(rows, scanSystemMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("system messages: technical %q: %w", name, err)
	}
	return &m, nil
}

func scanSystemMessage(row pgx.CollectableRow) (model.SystemMessage, error) {
	var m model.SystemMessage
	err := row.Scan(&m.ID, &m.ProfileID, &m.Name, &m.Type, &m.Content, &m.Version, &m.IsActive, &m.CreatedAt)
	return m, err
}
