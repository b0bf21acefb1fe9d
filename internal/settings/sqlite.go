package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the profile in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS assistant_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at_ms FROM assistant_settings WHERE key IN (?, ?)`,
		keyPersona, keyCredential,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var p Profile
	for rows.Next() {
		var (
			key, value string
			updatedMs  int64
		)
		if err := rows.Scan(&key, &value, &updatedMs); err != nil {
			return Profile{}, fmt.Errorf("scan settings row: %w", err)
		}
		assign(&p, key, value, time.UnixMilli(updatedMs))
	}
	if err := rows.Err(); err != nil {
		return Profile{}, fmt.Errorf("iterate settings rows: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Save(ctx context.Context, p Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kv := range [][2]string{{keyPersona, p.Persona}, {keyCredential, p.Credential}} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assistant_settings (key, value, updated_at_ms) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
			kv[0], kv[1], p.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
