package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store
}

func seedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStoreSaveRestoreRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := seedDir(t, map[string]string{
		"debug/libserde.rlib":  "object code",
		"debug/deps/serde.d":   "deps",
		".fingerprint/lib.json": "{}",
	})

	if err := store.Save(ctx, "key1", src); err != nil {
		t.Fatalf("save: %v", err)
	}

	dest := t.TempDir()
	hit, err := store.Restore(ctx, "key1", dest)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !hit {
		t.Fatal("expected a hit for a saved key")
	}

	for _, name := range []string{"debug/libserde.rlib", "debug/deps/serde.d", ".fingerprint/lib.json"} {
		want, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("restored tree missing %s: %v", name, err)
		}
		if string(got) != string(want) {
			t.Errorf("%s: restored content differs", name)
		}
	}
}

func TestStoreMissIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	hit, err := store.Restore(context.Background(), "nonexistent", t.TempDir())
	if err != nil {
		t.Fatalf("a miss must not be an error, got %v", err)
	}
	if hit {
		t.Error("expected a miss for an unknown key")
	}
}

func TestStoreResaveLastWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := seedDir(t, map[string]string{"artifact": "old"})
	if err := store.Save(ctx, "key1", first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := seedDir(t, map[string]string{"artifact": "new"})
	if err := store.Save(ctx, "key1", second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	dest := t.TempDir()
	hit, err := store.Restore(ctx, "key1", dest)
	if err != nil || !hit {
		t.Fatalf("restore: hit=%v err=%v", hit, err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "artifact"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("expected last writer to win, got %q", got)
	}
}

func TestStoreSaveMissingSource(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(context.Background(), "key1", filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for a missing cache source")
	}
}

func TestStorePrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := seedDir(t, map[string]string{"artifact": "data"})
	if err := store.Save(ctx, "stale", src); err != nil {
		t.Fatal(err)
	}

	// A negative horizon puts the cutoff in the future, so every entry is
	// stale.
	removed, err := store.Prune(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}

	hit, err := store.Restore(ctx, "stale", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("pruned entry still restorable")
	}

	// The blob is gone from disk too.
	entries, err := os.ReadDir(store.blobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty blob directory, found %d entries", len(entries))
	}
}

func TestStorePruneKeepsWarmEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := seedDir(t, map[string]string{"artifact": "data"})
	if err := store.Save(ctx, "warm", src); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("fresh entry pruned: removed=%d", removed)
	}

	hit, err := store.Restore(ctx, "warm", t.TempDir())
	if err != nil || !hit {
		t.Errorf("warm entry lost: hit=%v err=%v", hit, err)
	}
}

func TestExtractTarRejectsEscape(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := seedDir(t, map[string]string{"ok": "data"})
	if err := store.Save(ctx, "key1", src); err != nil {
		t.Fatal(err)
	}

	// Restore into a destination inside another directory; the archive only
	// carries relative paths, so everything must land under dest.
	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	if _, err := store.Restore(ctx, "key1", dest); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "dest" {
		t.Errorf("restore wrote outside its destination: %v", entries)
	}
}
