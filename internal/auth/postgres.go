package auth

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

var _ UserDirectory = (*PGDirectory)(nil)

// PGDirectory implements UserDirectory over a Postgres accounts table. The
// grant structure is stored as a JSON column so the directory schema stays
// independent of permission model changes.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// EnsureSchema creates the accounts table when it does not exist yet.
func (d *PGDirectory) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		create table if not exists accounts (
			id          text primary key,
			name        text not null,
			email       text not null unique,
			secret      text not null,
			active      boolean not null default true,
			permissions jsonb not null default '{}'::jsonb
		)
	`)
	return err
}

func (d *PGDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, name, email, secret, active, permissions from accounts where email=$1`,
		NormalizeEmail(email),
	)
	var (
		acc   Account
		grant []byte
	)
	if err := row.Scan(&acc.ID, &acc.Name, &acc.Email, &acc.Secret, &acc.Active, &grant); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(grant, &acc.Permissions)
	return &acc, nil
}

// Create inserts a directory record, assigning an ID when absent.
func (d *PGDirectory) Create(ctx context.Context, acc *Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc.Email = NormalizeEmail(acc.Email)
	grant, err := json.Marshal(acc.Permissions)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`insert into accounts(id, name, email, secret, active, permissions) values($1,$2,$3,$4,$5,$6)`,
		acc.ID, acc.Name, acc.Email, acc.Secret, acc.Active, grant,
	)
	return err
}

// SetActive flips the administrative active flag.
func (d *PGDirectory) SetActive(ctx context.Context, email string, active bool) error {
	res, err := d.db.ExecContext(ctx,
		`update accounts set active=$2 where email=$1`,
		NormalizeEmail(email), active,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
