package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/verdandi-labs/reverie/pkg/model"
)

// ActiveProfile implements [store.ProfileStore].
func (s *Store) ActiveProfile(ctx context.Context) (*model.Profile, error) {
	const q = `
		SELECT id, name, persona_name, is_active, created_at
		FROM   profiles
		WHERE  is_active
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("profiles: active profile: %w", err)
	}
	p, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (model.Profile, error) {
		var p model.Profile
		err := row.Scan(&p.ID, &p.Name, &p.PersonaName, &p.IsActive, &p.CreatedAt)
		return p, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profiles: active profile: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("profiles: active profile: %w", err)
	}
	return &p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// ActiveSession implements [store.SessionStore].
func (s *Scoped) ActiveSession(ctx context.Context) (*model.Session, error) {
	const q = `
		SELECT id, profile_id, name, is_active, created_at
		FROM   sessions
		WHERE  profile_id = $1 AND is_active
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("sessions: active session: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: active session: %w", err)
	}
	return &sess, nil
}

// CreateSession implements [store.SessionStore]. The new session becomes the
// active one; any previously active session is deactivated in the same
// transaction.
func (s *Scoped) CreateSession(ctx context.Context, name string) (*model.Session, error) {
	var sess model.Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET is_active = FALSE WHERE profile_id = $1 AND is_active`,
			s.profileID,
		); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO sessions (profile_id, name, is_active)
			 VALUES ($1, $2, TRUE)
			 RETURNING id, profile_id, name, is_active, created_at`,
			s.profileID, name,
		).Scan(&sess.ID, &sess.ProfileID, &sess.Name, &sess.IsActive, &sess.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	return &sess, nil
}

// Sessions implements [store.SessionStore].
func (s *Scoped) Sessions(ctx context.Context) ([]model.Session, error) {
	const q = `
		SELECT id, profile_id, name, is_active, created_at
		FROM   sessions
		WHERE  profile_id = $1
		ORDER  BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("sessions: scan rows: %w", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// ActivateSession implements [store.SessionStore].
func (s *Scoped) ActivateSession(ctx context.Context, id int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET is_active = FALSE WHERE profile_id = $1 AND is_active`,
			s.profileID,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET is_active = TRUE WHERE id = $1 AND profile_id = $2`,
			id, s.profileID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %d: %w", id, model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessions: activate %d: %w", id, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Turns
// ─────────────────────────────────────────────────────────────────────────────

// AcceptedTurns implements [store.SessionStore].
func (s *Scoped) AcceptedTurns(ctx context.Context, sessionID int64) ([]model.Turn, error) {
	const q = `
		SELECT id, session_id, input, response, stripped_turn, accepted, created_at
		FROM   turns
		WHERE  session_id = $1 AND accepted
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("turns: accepted: %w", err)
	}
	return collectTurns(rows)
}

// RecentAcceptedTurns implements [store.SessionStore]. Results are newest
// first.
func (s *Scoped) RecentAcceptedTurns(ctx context.Context, sessionID int64, limit int) ([]model.Turn, error) {
	const q = `
		SELECT id, session_id, input, response, stripped_turn, accepted, created_at
		FROM   turns
		WHERE  session_id = $1 AND accepted
		ORDER  BY created_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("turns: recent accepted: %w", err)
	}
	return collectTurns(rows)
}

// CreateTurn implements [store.SessionStore].
func (s *Scoped) CreateTurn(ctx context.Context, sessionID int64, input string) (*model.Turn, error) {
	var t model.Turn
	err := s.pool.QueryRow(ctx,
		`INSERT INTO turns (session_id, input)
		 VALUES ($1, $2)
		 RETURNING id, session_id, input, response, stripped_turn, accepted, created_at`,
		sessionID, input,
	).Scan(&t.ID, &t.SessionID, &t.Input, &t.Response, &t.StrippedTurn, &t.Accepted, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("turns: create: %w", err)
	}
	return &t, nil
}

// CompleteTurn implements [store.SessionStore].
func (s *Scoped) CompleteTurn(ctx context.Context, turn *model.Turn) error {
	const q = `
		UPDATE turns SET response = $2, stripped_turn = $3, accepted = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, turn.ID, turn.Response, turn.StrippedTurn, turn.Accepted)
	if err != nil {
		return fmt.Errorf("turns: complete %d: %w", turn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turn %d: %w", turn.ID, model.ErrNotFound)
	}
	return nil
}

func scanSession(row pgx.CollectableRow) (model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.ProfileID, &sess.Name, &sess.IsActive, &sess.CreatedAt)
	return sess, err
}

func collectTurns(rows pgx.Rows) ([]model.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Turn, error) {
		var t model.Turn
		err := row.Scan(&t.ID, &t.SessionID, &t.Input, &t.Response, &t.StrippedTurn, &t.Accepted, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("turns: scan rows: %w", err)
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return turns, nil
}
