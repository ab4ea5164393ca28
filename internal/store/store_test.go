package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrator/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	sdb := sqlx.NewDb(conn, "sqlite3")
	pool := db.NewPool(sdb, sdb)
	if err := Bootstrap(context.Background(), pool); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	return New(pool)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := Bootstrap(context.Background(), s.pool); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}
