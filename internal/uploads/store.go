// Package uploads persists the progress of resumable client uploads so a
// sync round can tell the client where to resume each UPLOAD.
package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// ErrCorruptRecord is returned when a record file cannot be parsed as JSON.
// The corrupt file is deleted automatically.
var ErrCorruptRecord = errors.New("uploads: corrupt record file")

const (
	recordFilePerms = 0o600
	recordDirPerms  = 0o700
)

// DefaultStaleAge is the default lifetime of an upload record.
const DefaultStaleAge = 7 * 24 * time.Hour

// cleanThrottle makes CleanStale a no-op when triggered again within it.
const cleanThrottle = time.Hour

// Record is the on-disk JSON format of one resumable upload: the bytes of
// the version (path, checksum) the server has already received.
type Record struct {
	UploadID  string    `json:"upload_id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Offset    int64     `json:"offset"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages file-based upload records, one JSON file per
// sha256(path:checksum) in a dedicated directory. Safe for concurrent use.
type Store struct {
	dir      string
	staleAge time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	cleanMu   gosync.Mutex
	lastClean time.Time
}

// NewStore creates a Store rooted at dir. A non-positive staleAge selects
// DefaultStaleAge.
func NewStore(dir string, staleAge time.Duration, logger *slog.Logger) *Store {
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{dir: dir, staleAge: staleAge, logger: logger, nowFunc: time.Now}
}

var _ isync.UploadOffsetProvider = (*Store)(nil)

// Load reads the record of a version. Returns nil, nil if none exists.
func (s *Store) Load(filePath, checksum string) (*Record, error) {
	p := s.filePath(filePath, checksum)

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("uploads: reading record file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt upload record, deleting",
			slog.String("file", p),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove corrupt upload record",
				slog.String("file", p),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return &rec, nil
}

// Save persists the progress of an upload with an atomic temp-file rename,
// assigning an upload id and timestamps on first save.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(s.dir, recordDirPerms); err != nil {
		return fmt.Errorf("uploads: creating record dir: %w", err)
	}

	now := s.nowFunc().UTC()
	if rec.UploadID == "" {
		rec.UploadID = uuid.NewString()
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("uploads: marshaling record: %w", err)
	}

	p := s.filePath(rec.Path, rec.Checksum)
	tmp := p + ".tmp"

	if err := os.WriteFile(tmp, data, recordFilePerms); err != nil {
		return fmt.Errorf("uploads: writing record temp file: %w", err)
	}

	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("uploads: renaming record temp file: %w", err)
	}

	s.cleanMu.Lock()
	due := s.nowFunc().Sub(s.lastClean) >= cleanThrottle
	s.cleanMu.Unlock()

	if due {
		go s.cleanIfDue()
	}

	return nil
}

// Delete removes the record of a version. No error if none exists.
func (s *Store) Delete(filePath, checksum string) error {
	if err := os.Remove(s.filePath(filePath, checksum)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uploads: deleting record file: %w", err)
	}

	return nil
}

// GetUploadOffsets returns the resume offset of each version in folder.
// Versions without a usable record resume at zero.
func (s *Store) GetUploadOffsets(ctx context.Context, folder string, versions []*isync.FileVersion) ([]int64, error) {
	offsets := make([]int64, len(versions))

	for i, v := range versions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("uploads: reading offsets for %s: %w", folder, err)
		}

		rec, err := s.Load(v.Path(), v.Hash)
		if errors.Is(err, ErrCorruptRecord) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if rec != nil {
			offsets[i] = rec.Offset
		}
	}

	return offsets, nil
}

// CleanStale removes records not updated within maxAge and returns how many
// were deleted. Safe to call concurrently.
func (s *Store) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("uploads: reading record dir: %w", err)
	}

	cutoff := s.nowFunc().Add(-maxAge)
	deleted := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to clean stale upload record",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		s.logger.Info("deleted stale upload record",
			slog.String("file", e.Name()),
			slog.Duration("age", s.nowFunc().Sub(info.ModTime())),
		)

		deleted++
	}

	return deleted, nil
}

// cleanIfDue runs CleanStale unless it ran within cleanThrottle.
func (s *Store) cleanIfDue() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in upload record cleanup", slog.Any("panic", r))
		}
	}()

	s.cleanMu.Lock()
	if s.nowFunc().Sub(s.lastClean) < cleanThrottle {
		s.cleanMu.Unlock()
		return
	}

	s.lastClean = s.nowFunc()
	s.cleanMu.Unlock()

	n, err := s.CleanStale(s.staleAge)
	if err != nil {
		s.logger.Warn("upload record cleanup failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		s.logger.Info("cleaned stale upload records", slog.Int("count", n))
	}
}

// recordKey produces a deterministic file name for a (path, checksum) pair.
// The length prefix keeps "a:" + "b" and "a" + ":b" apart. Checksums compare
// case-insensitively, so they are keyed in lower case.
func recordKey(filePath, checksum string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%s", len(filePath), filePath, strings.ToLower(checksum)))
	return fmt.Sprintf("%x.json", h)
}

func (s *Store) filePath(filePath, checksum string) string {
	return filepath.Join(s.dir, recordKey(filePath, checksum))
}
