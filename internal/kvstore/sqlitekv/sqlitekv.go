// Package sqlitekv backs kvstore.Store with an embedded SQLite database,
// the closest durable analogue of the local storage used by the original
// client deployment.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"flowcrm.org/internal/kvstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);
`

type Store struct {
	db *sql.DB
}

var _ kvstore.Store = (*Store)(nil)

// Open opens (and creates if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite handles one writer at a time; keep the pool to a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_records WHERE key = ?`, key)
	return err
}
