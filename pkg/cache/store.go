package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the filesystem-backed cache: blobs live as gzipped tarballs in a
// blob directory, and a SQLite index tracks key, size, and last-used time.
type Store struct {
	db    *sql.DB
	dir   string
	blobs string
}

// Config holds cache store configuration.
type Config struct {
	// Dir is the cache root directory. The index database and blob
	// directory are created beneath it.
	Dir string
}

// NewStore creates a new cache store instance rooted at cfg.Dir.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	return &Store{
		dir:   cfg.Dir,
		blobs: filepath.Join(cfg.Dir, "blobs"),
	}, nil
}

// Init creates the cache directories and opens the index database.
func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.blobs, 0o755); err != nil {
		return fmt.Errorf("create cache directories: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL",
		filepath.Join(s.dir, "index.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open cache index: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping cache index: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the index database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the index schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("cache index not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Key implements the engine cache contract via DeriveKey.
func (s *Store) Key(keyFiles []string, identity map[string]string) (string, error) {
	return DeriveKey(keyFiles, identity)
}

// Restore extracts the blob for key into dest. It returns false on a miss,
// which is a cold start rather than an error. A hit refreshes the entry's
// last-used time so Prune keeps warm entries alive.
func (s *Store) Restore(ctx context.Context, key, dest string) (bool, error) {
	var blobPath string
	err := s.db.QueryRowContext(ctx,
		"SELECT blob_path FROM cache_entries WHERE key = ?", key).Scan(&blobPath)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup cache entry: %w", err)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		// Index row without a blob: treat as a miss, the entry will be
		// overwritten by the next save.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open cache blob: %w", err)
	}
	defer f.Close()

	if err := extractTar(f, dest); err != nil {
		return false, fmt.Errorf("extract cache blob: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE cache_entries SET last_used = CURRENT_TIMESTAMP WHERE key = ?", key)
	if err != nil {
		return true, fmt.Errorf("touch cache entry: %w", err)
	}
	return true, nil
}

// Save archives src under key. The blob is written to a temporary file and
// renamed into place, so concurrent saves for the same key resolve
// last-writer-wins and a re-save of identical content is harmless.
func (s *Store) Save(ctx context.Context, key, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cache source %s: %w", src, err)
	}

	blobPath := filepath.Join(s.blobs, key+".tgz")
	tmp, err := os.CreateTemp(s.blobs, "save-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeTar(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("archive cache blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush cache blob: %w", err)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return fmt.Errorf("stat cache blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), blobPath); err != nil {
		return fmt.Errorf("publish cache blob: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, blob_path, size_bytes, last_used)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			blob_path = excluded.blob_path,
			size_bytes = excluded.size_bytes,
			last_used = CURRENT_TIMESTAMP`,
		key, blobPath, info.Size())
	if err != nil {
		return fmt.Errorf("index cache entry: %w", err)
	}
	return nil
}

// Prune removes entries unused for longer than horizon and deletes their
// blobs. It returns the number of entries removed.
func (s *Store) Prune(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon).UTC().Format("2006-01-02 15:04:05")

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, blob_path FROM cache_entries WHERE last_used < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale entries: %w", err)
	}
	defer rows.Close()

	type entry struct{ key, blobPath string }
	var stale []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.blobPath); err != nil {
			return 0, fmt.Errorf("scan stale entry: %w", err)
		}
		stale = append(stale, e)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale entries: %w", err)
	}

	var removed int64
	for _, e := range stale {
		if err := os.Remove(e.blobPath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove blob for %s: %w", e.key, err)
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE key = ?", e.key); err != nil {
			return removed, fmt.Errorf("delete entry %s: %w", e.key, err)
		}
		removed++
	}
	return removed, nil
}

// writeTar archives the directory at src as a gzipped tarball.
func writeTar(w io.Writer, src string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// extractTar unpacks a gzipped tarball into dest, rejecting entries that
// would escape it.
func extractTar(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("blob entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
