package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrator/internal/common/config"
)

// Connect opens a Pool for the configured driver: SQLite gets a
// single-connection writer plus a multi-connection WAL reader, Postgres
// gets one pgx-backed pool shared as both writer and reader.
func Connect(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3", "":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil

	case "postgres", "postgresql", "pgx":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
		sqlDB, err := OpenPostgres(dsn, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		sqlxDB := sqlx.NewDb(sqlDB, "pgx")
		return NewPool(sqlxDB, sqlxDB), nil

	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}
