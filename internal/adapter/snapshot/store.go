package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/domain"
)

const (
	cacheFile  = "cached.json"
	archiveDir = "archive"
	compactDir = "compact"
	prettyDir  = "pretty"
)

// Store keeps the last processed feed document and dated archive copies
// under one output directory. It implements pipeline.SnapshotStore.
type Store struct {
	dir    string
	pretty bool
	logger *slog.Logger
}

// NewStore resolves dir to an absolute path and creates it if needed.
// Failures wrap domain.ErrOutputPath. With pretty set, Archive also writes an
// indented copy next to the compact one.
func NewStore(dir string, pretty bool, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOutputPath, dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOutputPath, abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOutputPath, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrOutputPath, abs)
	}
	return &Store{dir: abs, pretty: pretty, logger: logger}, nil
}

// Dir is the resolved output directory.
func (s *Store) Dir() string { return s.dir }

// CachePath is the location of the cached document.
func (s *Store) CachePath() string { return filepath.Join(s.dir, cacheFile) }

// Load returns the cached document bytes, or domain.ErrNoSnapshot on the
// first run.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.CachePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read cache: %w", err)
	}
	return data, nil
}

// Save replaces the cached document with raw, byte for byte.
func (s *Store) Save(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(s.CachePath(), raw); err != nil {
		return fmt.Errorf("snapshot: write cache: %w", err)
	}
	s.logger.Debug("cache updated", "path", s.CachePath(), "bytes", len(raw))
	return nil
}

// Archive writes raw under archive/compact, named after the publication
// instant, and an indented copy under archive/pretty if enabled. It returns
// the paths written.
func (s *Store) Archive(ctx context.Context, raw []byte, publishedAt time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := domain.ArchiveName(publishedAt)

	compact := filepath.Join(s.dir, archiveDir, compactDir, name)
	if err := writeFileIn(compact, raw); err != nil {
		return nil, fmt.Errorf("snapshot: archive: %w", err)
	}
	paths := []string{compact}

	if s.pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return paths, fmt.Errorf("snapshot: indent archive: %w", err)
		}
		buf.WriteByte('\n')
		pretty := filepath.Join(s.dir, archiveDir, prettyDir, name)
		if err := writeFileIn(pretty, buf.Bytes()); err != nil {
			return paths, fmt.Errorf("snapshot: pretty archive: %w", err)
		}
		paths = append(paths, pretty)
	}

	s.logger.Info("feed archived", "paths", paths)
	return paths, nil
}

func writeFileIn(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes to a temporary file in the same directory and
// renames it over path, so readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
