package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrator/internal/db"
)

// Store is the typed, transactional facade over the relational state store.
// It is safe for concurrent use: the underlying db.Pool already separates a
// single writer connection (SQLite) or pooled writer (Postgres) from a
// read-only pool.
type Store struct {
	pool *db.Pool
}

// New wraps an already-opened connection pool. Callers must run Bootstrap
// once at process startup before using the returned Store.
func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Driver returns the underlying SQL driver name ("sqlite3" or "pgx"), used
// by callers that need dialect-aware query fragments (internal/db/dialect).
func (s *Store) Driver() string {
	return s.pool.Writer().DriverName()
}

// WithTx runs fn inside a single writer transaction, committing on success
// and rolling back on any error or panic. Every cross-entity mutation named
// in the orchestration core's consistency rules (execution+activity,
// schedule+next-fire, agent+permission-edges) goes through this helper.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// reader returns the read-only connection pool for SELECT-only queries.
func (s *Store) reader() *sqlx.DB {
	return s.pool.Reader()
}

// writer returns the writer connection pool for single-statement mutations
// that do not need WithTx.
func (s *Store) writer() *sqlx.DB {
	return s.pool.Writer()
}
