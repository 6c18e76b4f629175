// Package state persists the versions remembered from the last completed
// sync round (the "original" side of every three-way comparison) and the
// cached checksums the engine may invalidate, in a single SQLite database.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

const (
	sqlLoadDirectories = `SELECT path, hash FROM directory_versions
		WHERE path = ?1 OR substr(path, 1, length(?2)) = ?2 ORDER BY path`

	sqlUpsertDirectory = `INSERT INTO directory_versions (path, hash, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 hash = excluded.hash,
		 synced_at = excluded.synced_at`

	sqlDeleteDirectory = `DELETE FROM directory_versions WHERE path = ?`

	sqlDeleteDirectoryTree = `DELETE FROM directory_versions
		WHERE path = ?1 OR substr(path, 1, length(?2)) = ?2`

	sqlLoadFiles = `SELECT name, hash FROM file_versions WHERE folder = ? ORDER BY name`

	sqlUpsertFile = `INSERT INTO file_versions (folder, name, hash, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(folder, name) DO UPDATE SET
		 hash = excluded.hash,
		 synced_at = excluded.synced_at`

	sqlDeleteFile = `DELETE FROM file_versions WHERE folder = ? AND name = ?`

	sqlDeleteFolderFiles = `DELETE FROM file_versions WHERE folder = ?`
)

var errNoResultPath = errors.New("state: result has no path")

// Store is the sole writer to the state database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the SQLite database at dbPath and applies
// pending migrations. The database uses WAL mode with synchronous=FULL.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("state store opened",
		slog.String("db_path", dbPath),
		slog.Int64("schema_version", version),
	)

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DirectoryVersions returns the remembered versions of root and every
// directory below it, ordered by path.
func (s *Store) DirectoryVersions(ctx context.Context, root string) ([]*isync.DirectoryVersion, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadDirectories, root, subtreePrefix(root))
	if err != nil {
		return nil, fmt.Errorf("state: loading directory versions below %s: %w", root, err)
	}
	defer rows.Close()

	var versions []*isync.DirectoryVersion

	for rows.Next() {
		var p, hash string
		if err := rows.Scan(&p, &hash); err != nil {
			return nil, fmt.Errorf("state: scanning directory version: %w", err)
		}

		versions = append(versions, isync.NewDirectoryVersion(p, hash))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating directory versions: %w", err)
	}

	s.logger.Debug("directory versions loaded", slog.String("root", root), slog.Int("count", len(versions)))

	return versions, nil
}

// FileVersions returns the remembered versions of the files in folder,
// ordered by name.
func (s *Store) FileVersions(ctx context.Context, folder string) ([]*isync.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadFiles, folder)
	if err != nil {
		return nil, fmt.Errorf("state: loading file versions of %s: %w", folder, err)
	}
	defer rows.Close()

	var versions []*isync.FileVersion

	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("state: scanning file version: %w", err)
		}

		versions = append(versions, isync.NewFileVersion(folder, name, hash))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating file versions: %w", err)
	}

	s.logger.Debug("file versions loaded", slog.String("folder", folder), slog.Int("count", len(versions)))

	return versions, nil
}

// DirectoryCommit is the outcome of a directory pass to record.
type DirectoryCommit struct {
	Result *isync.SyncResult[*isync.DirectoryVersion]
	// Original, when non-nil, replaces the remembered versions of the tree
	// below Result.Path before Result is applied.
	Original []*isync.DirectoryVersion
	// Checksums are the server directory checksums of the pass, by folder ID.
	Checksums map[string]string
}

// FileCommit is the outcome of a file pass over Result.Path to record.
type FileCommit struct {
	Result *isync.SyncResult[*isync.FileVersion]
	// Original, when non-nil, replaces the remembered versions of the folder
	// before Result is applied.
	Original []*isync.FileVersion
}

// CommitDirectoryResult records a delivered directory result in one
// transaction: ACKNOWLEDGE actions make their target the remembered version
// (no target forgets it), and client REMOVE actions forget the removed
// directory. Every other action is confirmed by the acknowledgements of a
// later round.
func (s *Store) CommitDirectoryResult(ctx context.Context, c DirectoryCommit) error {
	var applied int

	err := s.inTx(ctx, "committing directory result", func(tx *sql.Tx, now int64) error {
		root := c.Result.Path
		if root == "" {
			return errNoResultPath
		}

		if c.Original != nil {
			if _, err := tx.ExecContext(ctx, sqlDeleteDirectoryTree, root, subtreePrefix(root)); err != nil {
				return fmt.Errorf("state: clearing directory versions below %s: %w", root, err)
			}

			for _, v := range c.Original {
				if err := upsertDirectory(ctx, tx, v, now); err != nil {
					return err
				}
			}
		}

		n, err := applyDirectoryActions(ctx, tx, c.Result, now)
		if err != nil {
			return err
		}

		applied = n

		for folderID, checksum := range c.Checksums {
			if _, err := tx.ExecContext(ctx, sqlPutDirectoryChecksum, folderID, checksum, now); err != nil {
				return fmt.Errorf("state: recording checksum of folder %s: %w", folderID, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("directory result committed",
		slog.String("round_id", c.Result.RoundID),
		slog.Int("applied", applied),
		slog.Int("checksums", len(c.Checksums)),
	)

	return nil
}

// CommitFileResults records delivered file results the way
// CommitDirectoryResult does, all folders in one transaction.
func (s *Store) CommitFileResults(ctx context.Context, commits []FileCommit) error {
	var applied int

	err := s.inTx(ctx, "committing file results", func(tx *sql.Tx, now int64) error {
		for i, c := range commits {
			folder := c.Result.Path
			if folder == "" {
				return fmt.Errorf("commit %d: %w", i, errNoResultPath)
			}

			if c.Original != nil {
				if _, err := tx.ExecContext(ctx, sqlDeleteFolderFiles, folder); err != nil {
					return fmt.Errorf("state: clearing file versions of %s: %w", folder, err)
				}

				for _, v := range c.Original {
					if err := upsertFile(ctx, tx, folder, v, now); err != nil {
						return err
					}
				}
			}

			n, err := applyFileActions(ctx, tx, c.Result, now)
			if err != nil {
				return err
			}

			applied += n
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("file results committed",
		slog.Int("folders", len(commits)),
		slog.Int("applied", applied),
	)

	return nil
}

func applyDirectoryActions(
	ctx context.Context, tx *sql.Tx, result *isync.SyncResult[*isync.DirectoryVersion], now int64,
) (int, error) {
	var applied int

	for _, a := range result.ActionsForClient {
		switch a.Type {
		case isync.ActionAcknowledge:
			if a.From != nil && (a.To == nil || a.From.Path != a.To.Path) {
				if err := deleteDirectory(ctx, tx, a.From.Path); err != nil {
					return 0, err
				}
			}

			if a.To != nil {
				if err := upsertDirectory(ctx, tx, a.To, now); err != nil {
					return 0, err
				}
			}
		case isync.ActionRemove:
			if err := deleteDirectory(ctx, tx, a.From.Path); err != nil {
				return 0, err
			}
		default:
			continue
		}

		applied++
	}

	return applied, nil
}

func applyFileActions(ctx context.Context, tx *sql.Tx, result *isync.SyncResult[*isync.FileVersion], now int64) (int, error) {
	folder := result.Path

	var applied int

	for _, a := range result.ActionsForClient {
		switch a.Type {
		case isync.ActionAcknowledge:
			if a.From != nil && (a.To == nil || a.From.Name != a.To.Name) {
				if err := deleteFile(ctx, tx, folder, a.From.Name); err != nil {
					return 0, err
				}
			}

			if a.To != nil {
				if err := upsertFile(ctx, tx, folder, a.To, now); err != nil {
					return 0, err
				}
			}
		case isync.ActionRemove:
			if err := deleteFile(ctx, tx, folder, a.From.Name); err != nil {
				return 0, err
			}
		default:
			continue
		}

		applied++
	}

	return applied, nil
}

// inTx runs fn in a transaction stamped with the current time.
func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx, now int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: beginning transaction for %s: %w", what, err)
	}
	defer tx.Rollback()

	if err := fn(tx, s.nowFunc().UnixNano()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: committing %s: %w", what, err)
	}

	return nil
}

func upsertDirectory(ctx context.Context, tx *sql.Tx, v *isync.DirectoryVersion, now int64) error {
	if _, err := tx.ExecContext(ctx, sqlUpsertDirectory, v.Path, v.Hash, now); err != nil {
		return fmt.Errorf("state: upserting directory version %s: %w", v.Path, err)
	}

	return nil
}

func deleteDirectory(ctx context.Context, tx *sql.Tx, p string) error {
	if _, err := tx.ExecContext(ctx, sqlDeleteDirectory, p); err != nil {
		return fmt.Errorf("state: deleting directory version %s: %w", p, err)
	}

	return nil
}

func upsertFile(ctx context.Context, tx *sql.Tx, folder string, v *isync.FileVersion, now int64) error {
	if _, err := tx.ExecContext(ctx, sqlUpsertFile, folder, v.Name, v.Hash, now); err != nil {
		return fmt.Errorf("state: upserting file version %s/%s: %w", folder, v.Name, err)
	}

	return nil
}

func deleteFile(ctx context.Context, tx *sql.Tx, folder, name string) error {
	if _, err := tx.ExecContext(ctx, sqlDeleteFile, folder, name); err != nil {
		return fmt.Errorf("state: deleting file version %s/%s: %w", folder, name, err)
	}

	return nil
}

// subtreePrefix is the prefix shared by every path strictly below root.
// Matching is done with substr rather than LIKE, which folds ASCII case.
func subtreePrefix(root string) string {
	return strings.TrimSuffix(root, "/") + "/"
}
