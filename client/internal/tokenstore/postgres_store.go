package tokenstore

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore keeps the token in a client_tokens row keyed by name.
type PostgresStore struct {
	db  *sql.DB
	key string
}

// NewPostgresStore returns a store backed by db. Call EnsureSchema once before use.
func NewPostgresStore(db *sql.DB, key string) *PostgresStore {
	if key == "" {
		key = DefaultKey
	}
	return &PostgresStore{db: db, key: key}
}

// EnsureSchema creates the client_tokens table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS client_tokens (
			name       TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Load fetches the token row.
func (s *PostgresStore) Load(ctx context.Context) (string, error) {
	const query = `SELECT token FROM client_tokens WHERE name = $1 LIMIT 1`
	var token string
	if err := s.db.QueryRowContext(ctx, query, s.key).Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return token, nil
}

// Save upserts the token row.
func (s *PostgresStore) Save(ctx context.Context, token string) error {
	const query = `
		INSERT INTO client_tokens (name, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query, s.key, token)
	return err
}

// Clear deletes the token row.
func (s *PostgresStore) Clear(ctx context.Context) error {
	const query = `DELETE FROM client_tokens WHERE name = $1`
	_, err := s.db.ExecContext(ctx, query, s.key)
	return err
}
