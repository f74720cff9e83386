// Package pg backs kvstore.Store with a single Postgres table.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flowcrm.org/internal/kvstore"
)

type Store struct {
	db *sql.DB
}

var _ kvstore.Store = (*Store)(nil)

// Open connects to Postgres and prepares the backing table.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Schema setup is the caller's
// responsibility.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the kv_records table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists kv_records (
			key        text primary key,
			value      bytea not null,
			updated_at timestamptz not null default now()
		)
	`)
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `select value from kv_records where key=$1`, key).Scan(&value)
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
		insert into kv_records(key, value, updated_at)
		values ($1, $2, now())
		on conflict (key) do update
		set value = excluded.value, updated_at = now()
	`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `delete from kv_records where key=$1`, key)
	return err
}
