// Package postgres provides the PostgreSQL-backed implementation of the
// Reverie catalog: context data, sessions and turns, flags, system messages,
// and profiles.
//
// All stores share a single [pgxpool.Pool]. [Migrate] installs the schema
// idempotently on every application start.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	profile, _ := st.Profiles().ActiveProfile(ctx)
//	scoped := st.Scope(profile.ID)
//	always, _ := scoped.GetAlwaysOn(ctx, store.ContextDataQuery{})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — profiles, sessions, turns
// ─────────────────────────────────────────────────────────────────────────────

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    id           BIGSERIAL    PRIMARY KEY,
    name         TEXT         NOT NULL,
    persona_name TEXT         NOT NULL DEFAULT '',
    is_active    BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_single_active
    ON profiles (is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS sessions (
    id          BIGSERIAL    PRIMARY KEY,
    profile_id  BIGINT       NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL DEFAULT '',
    is_active   BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active
    ON sessions (profile_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS turns (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    BIGINT       NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    input         TEXT         NOT NULL,
    response      TEXT         NOT NULL DEFAULT '',
    stripped_turn TEXT         NOT NULL DEFAULT '',
    accepted      BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — context data
// ─────────────────────────────────────────────────────────────────────────────

const ddlContextData = `
CREATE TABLE IF NOT EXISTS context_data (
    id                     BIGSERIAL    PRIMARY KEY,
    profile_id             BIGINT       NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    name                   TEXT         NOT NULL,
    content                TEXT         NOT NULL DEFAULT '',
    summary                TEXT         NOT NULL DEFAULT '',
    core_facts             TEXT         NOT NULL DEFAULT '',
    display                TEXT         NOT NULL DEFAULT 'content',
    type                   TEXT         NOT NULL,
    availability           TEXT         NOT NULL,
    is_user                BOOLEAN      NOT NULL DEFAULT FALSE,
    is_enabled             BOOLEAN      NOT NULL DEFAULT TRUE,
    is_archived            BOOLEAN      NOT NULL DEFAULT FALSE,
    sort_order             INT          NOT NULL DEFAULT 0,
    use_next_turn_only     BOOLEAN      NOT NULL DEFAULT FALSE,
    use_every_turn         BOOLEAN      NOT NULL DEFAULT FALSE,
    previous_availability  TEXT         NOT NULL DEFAULT '',
    trigger_keywords       TEXT         NOT NULL DEFAULT '',
    trigger_lookback_turns INT          NOT NULL DEFAULT 0,
    trigger_min_match      INT          NOT NULL DEFAULT 1,
    vector_id              TEXT         NOT NULL DEFAULT '',
    in_vector_db           BOOLEAN      NOT NULL DEFAULT FALSE,
    embedding_updated_at   TIMESTAMPTZ,
    source_session_id      BIGINT       NOT NULL DEFAULT 0,
    speaker                TEXT         NOT NULL DEFAULT '',
    subtype                TEXT         NOT NULL DEFAULT '',
    nonverbal_behavior     TEXT         NOT NULL DEFAULT '',
    relevance_score        INT          NOT NULL DEFAULT 0,
    relevance_reason       TEXT         NOT NULL DEFAULT '',
    tags                   TEXT[]       NOT NULL DEFAULT '{}',
    cooldown_turns         INT          NOT NULL DEFAULT 0,
    used_last_on_turn_id   BIGINT       NOT NULL DEFAULT 0,
    usage_count            INT          NOT NULL DEFAULT 0,
    trigger_count          INT          NOT NULL DEFAULT 0,
    last_used_at           TIMESTAMPTZ,
    last_triggered_at      TIMESTAMPTZ,
    token_count            INT          NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_context_data_profile_type_avail
    ON context_data (profile_id, type, availability);

CREATE INDEX IF NOT EXISTS idx_context_data_profile_type_user
    ON context_data (profile_id, type, is_user);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_data_single_user_profile
    ON context_data (profile_id)
    WHERE type = 'characterprofile' AND is_user AND is_enabled AND NOT is_archived;
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — flags and system messages
// ─────────────────────────────────────────────────────────────────────────────

const ddlFlagsAndMessages = `
CREATE TABLE IF NOT EXISTS flags (
    id           BIGSERIAL    PRIMARY KEY,
    profile_id   BIGINT       NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    value        TEXT         NOT NULL,
    active       BOOLEAN      NOT NULL DEFAULT FALSE,
    constant     BOOLEAN      NOT NULL DEFAULT FALSE,
    last_used_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flags_profile
    ON flags (profile_id);

CREATE TABLE IF NOT EXISTS system_messages (
    id          BIGSERIAL    PRIMARY KEY,
    profile_id  BIGINT       NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL DEFAULT '',
    type        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    version     INT          NOT NULL DEFAULT 1,
    is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_system_messages_profile_type
    ON system_messages (profile_id, type, is_active);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlProfiles,
		ddlContextData,
		ddlFlagsAndMessages,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
