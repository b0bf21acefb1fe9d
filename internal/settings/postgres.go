package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the profile in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS assistant_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, updated_at FROM assistant_settings WHERE key = ANY($1)`,
		[]string{keyPersona, keyCredential},
	)
	if err != nil {
		return Profile{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var p Profile
	for rows.Next() {
		var (
			key, value string
			updatedAt  time.Time
		)
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return Profile{}, fmt.Errorf("scan settings row: %w", err)
		}
		assign(&p, key, value, updatedAt)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, fmt.Errorf("iterate settings rows: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(ctx) }()

	for key, value := range map[string]string{keyPersona: p.Persona, keyCredential: p.Credential} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO assistant_settings (key, value, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			key, value, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func assign(p *Profile, key, value string, updatedAt time.Time) {
	switch key {
	case keyPersona:
		p.Persona = value
	case keyCredential:
		p.Credential = value
	default:
		return
	}
	if updatedAt.After(p.UpdatedAt) {
		p.UpdatedAt = updatedAt.UTC()
	}
}
