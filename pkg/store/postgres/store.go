package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdandi-labs/reverie/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.ContextDataStore   = (*Scoped)(nil)
	_ store.SessionStore       = (*Scoped)(nil)
	_ store.FlagStore          = (*Scoped)(nil)
	_ store.SystemMessageStore = (*Scoped)(nil)
	_ store.ProfileStore       = (*Store)(nil)
)

// Store is the central PostgreSQL-backed catalog for Reverie. It holds a
// single [pgxpool.Pool]; profile-scoped access goes through [Store.Scope].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Scope returns a view of the catalog filtered to profileID. The returned
// [Scoped] implements [store.ContextDataStore], [store.SessionStore],
// [store.FlagStore], and [store.SystemMessageStore]; every query it issues
// carries the profile filter.
func (s *Store) Scope(profileID int64) *Scoped {
	return &Scoped{pool: s.pool, profileID: profileID}
}

// Profiles returns the profile-resolution view of the store.
func (s *Store) Profiles() *Store { return s }

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Scoped is a profile-scoped view of the catalog. Obtain one via
// [Store.Scope] rather than constructing directly.
type Scoped struct {
	pool      *pgxpool.Pool
	profileID int64
}

// ProfileID returns the profile this view is scoped to.
func (s *Scoped) ProfileID() int64 { return s.profileID }
