package settings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// NewStore picks a backend from the DSN:
//
//	""                       in-memory
//	postgres://, postgresql:// PostgreSQL
//	sqlite:<path>            SQLite file
//	<path>.yaml, <path>.yml  YAML file
func NewStore(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	case strings.HasPrefix(lower, "sqlite:"):
		path := strings.TrimPrefix(dsn[len("sqlite:"):], "//")
		if path == "" {
			return nil, fmt.Errorf("sqlite settings store needs a path")
		}
		return NewSQLiteStore(ctx, path)
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return NewFileStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported settings store %q", dsn)
	}
}

// WatchPath returns the file to watch for external edits, if the DSN names one.
func WatchPath(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return strings.TrimSpace(dsn)
	}
	return ""
}

// SeedPersona stores the persona from path when the store has none yet.
func SeedPersona(ctx context.Context, store Store, path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	current, err := store.Load(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(current.Persona) != "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read default persona: %w", err)
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return false, nil
	}
	current.Persona = persona
	current.UpdatedAt = time.Time{}
	if err := store.Save(ctx, current); err != nil {
		return false, err
	}
	return true, nil
}
