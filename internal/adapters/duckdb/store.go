package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/ports"
)

// Store is the durable key-value store backing the persisted job
// reference. It survives client restarts, which is the whole point.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database file and runs the schema
// migration.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate duckdb schema: %w", err)
	}
	return &Store{db: db}, nil
}

var _ ports.KeyValueStore = (*Store)(nil)

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS kv_entries (
		key VARCHAR PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT current_timestamp
	);`)
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO kv_entries (key, value, updated_at)
	VALUES (?, ?, current_timestamp)
	ON CONFLICT (key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at;`,
		key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
