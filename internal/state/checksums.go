package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

const (
	sqlPutFileChecksum = `INSERT INTO file_checksums (file_id, checksum, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(file_id, checksum) DO UPDATE SET updated_at = excluded.updated_at`

	sqlFileChecksums = `SELECT checksum FROM file_checksums WHERE file_id = ? ORDER BY updated_at DESC, checksum`

	sqlRemoveFileChecksum = `DELETE FROM file_checksums WHERE file_id = ? AND checksum = ?`

	sqlRemoveFileChecksums = `DELETE FROM file_checksums WHERE file_id = ?`

	sqlPutDirectoryChecksum = `INSERT INTO directory_checksums (folder_id, checksum, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(folder_id) DO UPDATE SET
		 checksum = excluded.checksum,
		 updated_at = excluded.updated_at`

	sqlDirectoryChecksum = `SELECT checksum FROM directory_checksums WHERE folder_id = ?`

	sqlRemoveDirectoryChecksum = `DELETE FROM directory_checksums WHERE folder_id = ?`
)

var (
	_ isync.ChecksumStore = (*Store)(nil)
	_ isync.ChecksumCache = (*Store)(nil)
)

// PutFileChecksum caches a checksum derived for a file.
func (s *Store) PutFileChecksum(ctx context.Context, fileID, checksum string) error {
	if _, err := s.db.ExecContext(ctx, sqlPutFileChecksum, fileID, checksum, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("state: caching checksum of file %s: %w", fileID, err)
	}

	return nil
}

// FileChecksums returns the cached checksums of a file, newest first.
func (s *Store) FileChecksums(ctx context.Context, fileID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlFileChecksums, fileID)
	if err != nil {
		return nil, fmt.Errorf("state: loading checksums of file %s: %w", fileID, err)
	}
	defer rows.Close()

	var checksums []string

	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("state: scanning file checksum: %w", err)
		}

		checksums = append(checksums, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating file checksums: %w", err)
	}

	return checksums, nil
}

// RemoveFileChecksum drops one cached checksum of a file.
func (s *Store) RemoveFileChecksum(ctx context.Context, fileID, checksum string) error {
	if _, err := s.db.ExecContext(ctx, sqlRemoveFileChecksum, fileID, checksum); err != nil {
		return fmt.Errorf("state: removing checksum %s of file %s: %w", checksum, fileID, err)
	}

	s.logger.Debug("file checksum removed", slog.String("file_id", fileID), slog.String("checksum", checksum))

	return nil
}

// RemoveFileChecksums drops every cached checksum of a file.
func (s *Store) RemoveFileChecksums(ctx context.Context, fileID string) error {
	res, err := s.db.ExecContext(ctx, sqlRemoveFileChecksums, fileID)
	if err != nil {
		return fmt.Errorf("state: removing checksums of file %s: %w", fileID, err)
	}

	n, _ := res.RowsAffected()
	s.logger.Debug("file checksums removed", slog.String("file_id", fileID), slog.Int64("count", n))

	return nil
}

// DirectoryChecksum returns the checksum recorded for a folder by the last
// committed directory pass, and whether one is recorded. Stale metadata
// purges it.
func (s *Store) DirectoryChecksum(ctx context.Context, folderID string) (string, bool, error) {
	var checksum string

	err := s.db.QueryRowContext(ctx, sqlDirectoryChecksum, folderID).Scan(&checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("state: loading checksum of folder %s: %w", folderID, err)
	}

	return checksum, true, nil
}

// RemoveDirectoryChecksum drops the cached checksum of a folder.
func (s *Store) RemoveDirectoryChecksum(ctx context.Context, folderID string) error {
	if _, err := s.db.ExecContext(ctx, sqlRemoveDirectoryChecksum, folderID); err != nil {
		return fmt.Errorf("state: removing checksum of folder %s: %w", folderID, err)
	}

	s.logger.Debug("directory checksum removed", slog.String("folder_id", folderID))

	return nil
}
