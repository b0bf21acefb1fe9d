package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		dsn  string
		want any
	}{
		{name: "empty", dsn: "", want: &InMemoryStore{}},
		{name: "sqlite", dsn: "sqlite:" + filepath.Join(dir, "settings.db"), want: &SQLiteStore{}},
		{name: "yaml", dsn: filepath.Join(dir, "settings.yaml"), want: &FileStore{}},
		{name: "yml", dsn: filepath.Join(dir, "alt.YML"), want: &FileStore{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(ctx, tc.dsn)
			require.NoError(t, err)
			defer store.Close()
			require.IsType(t, tc.want, store)
		})
	}

	_, err := NewStore(ctx, "mysql://nope")
	require.Error(t, err)
	_, err = NewStore(ctx, "sqlite:")
	require.Error(t, err)
}

func TestStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(ctx, filepath.Join(dir, "s.db"))
	require.NoError(t, err)
	fileStore, err := NewFileStore(filepath.Join(dir, "nested", "s.yaml"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqliteStore,
		"file":   fileStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			empty, err := store.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, empty.Persona)
			require.Empty(t, empty.Credential)

			require.NoError(t, store.Save(ctx, Profile{Persona: "JOHN DOE - engineer", Credential: "gsk_1"}))
			got, err := store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, "JOHN DOE - engineer", got.Persona)
			require.Equal(t, "gsk_1", got.Credential)
			require.False(t, got.UpdatedAt.IsZero())

			require.NoError(t, store.Save(ctx, Profile{Persona: "", Credential: "gsk_2"}))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, got.Persona)
			require.Equal(t, "gsk_2", got.Credential)
		})
	}
}

func TestFileStoreWritesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), Profile{Persona: "p", Credential: "c"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "persona: p")
}

func TestFileStoreRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: [unterminated"), 0o600))
	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	require.Error(t, err)
}

func TestWithFallbackCredential(t *testing.T) {
	ctx := context.Background()
	base := NewInMemoryStore()

	require.Same(t, Store(base), WithFallbackCredential(base, "  "))

	store := WithFallbackCredential(base, "env-key")
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "env-key", got.Credential)

	require.NoError(t, store.Save(ctx, Profile{Persona: "x", Credential: "user-key"}))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "user-key", got.Credential)

	// Saving the fallback back must not pin it in the store.
	require.NoError(t, store.Save(ctx, Profile{Persona: "x", Credential: "env-key"}))
	raw, err := base.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, raw.Credential)
}

func TestSeedPersona(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seed := filepath.Join(dir, "persona.txt")
	require.NoError(t, os.WriteFile(seed, []byte("  JANE ROE - pilot\n"), 0o600))

	store := NewInMemoryStore()
	seeded, err := SeedPersona(ctx, store, seed)
	require.NoError(t, err)
	require.True(t, seeded)

	got, _ := store.Load(ctx)
	require.Equal(t, "JANE ROE - pilot", got.Persona)

	seeded, err = SeedPersona(ctx, store, seed)
	require.NoError(t, err)
	require.False(t, seeded)

	seeded, err = SeedPersona(ctx, NewInMemoryStore(), "")
	require.NoError(t, err)
	require.False(t, seeded)
}

func TestWatchPath(t *testing.T) {
	require.Equal(t, "/etc/alex.yaml", WatchPath(" /etc/alex.yaml "))
	require.Empty(t, WatchPath("sqlite:/tmp/x.db"))
	require.Empty(t, WatchPath(""))
}

func TestWatchReportsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: a\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func() { changes.Add(1) })
	}()

	// The watch is registered asynchronously; keep writing until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("persona: b\n"), 0o600)
		return changes.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
