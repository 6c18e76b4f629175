package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Default action ceilings per pass.
const (
	DefaultMaxDirectoryActions = 250
	DefaultMaxFileActions      = 500
)

const defaultConcurrency = 4

// EngineConfig wires the collaborators shared by every pass of an Engine.
type EngineConfig struct {
	Storage   Storage
	Checksums ChecksumStore        // optional
	Uploads   UploadOffsetProvider // optional
	Metadata  MetadataProvider     // optional
	Filter    *NameFilter

	MaxDirectoryActions int
	MaxFileActions      int
	Concurrency         int // parallel folder passes in SyncFolders
	Logger              *slog.Logger
}

// RoundOpts identifies who runs a round and from where.
type RoundOpts struct {
	UserID      int
	DeviceName  string
	Diagnostics bool
}

// DirectoryRound is the input of a directory pass over the tree below Root.
type DirectoryRound struct {
	Root     string
	Client   []*DirectoryVersion
	Server   []*DirectoryVersion
	Original []*DirectoryVersion
}

// FileRound is the input of a file pass over one folder. A nil Server list
// is read from the storage.
type FileRound struct {
	Path     string
	Client   []*FileVersion
	Server   []*FileVersion
	Original []*FileVersion
}

// Engine runs sync passes. It holds no per-pass state, so passes over
// different scopes may run concurrently.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates an Engine, filling in defaults for unset limits and
// raising ceilings below MinActionCeiling.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Filter == nil {
		cfg.Filter = NewNameFilter(FilterOptions{}, cfg.Logger)
	}

	if cfg.MaxDirectoryActions <= 0 {
		cfg.MaxDirectoryActions = DefaultMaxDirectoryActions
	}

	if cfg.MaxFileActions <= 0 {
		cfg.MaxFileActions = DefaultMaxFileActions
	}

	cfg.MaxDirectoryActions = max(cfg.MaxDirectoryActions, MinActionCeiling)
	cfg.MaxFileActions = max(cfg.MaxFileActions, MinActionCeiling)

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// SyncDirectories runs a directory pass.
func (e *Engine) SyncDirectories(
	ctx context.Context, opts RoundOpts, round DirectoryRound,
) (*SyncResult[*DirectoryVersion], error) {
	session := e.newSession(opts, round.Root)
	mapper := NewVersionMapper(round.Original, round.Client, round.Server)

	result, err := NewDirectorySynchronizer(session, mapper, e.cfg.Storage, e.cfg.Filter, e.cfg.MaxDirectoryActions).Sync(ctx)
	if err != nil {
		return nil, err
	}

	return publish(ctx, e, session, round.Root, result)
}

// SyncFiles runs a file pass over one folder.
func (e *Engine) SyncFiles(ctx context.Context, opts RoundOpts, round FileRound) (*SyncResult[*FileVersion], error) {
	session := e.newSession(opts, round.Path)

	server := round.Server
	if server == nil {
		var err error
		if server, err = e.ServerFileVersions(ctx, round.Path); err != nil {
			return nil, err
		}
	}

	mapper := NewVersionMapper(round.Original, round.Client, server)

	result, err := NewFileSynchronizer(session, mapper, FileSynchronizerConfig{
		Path:       round.Path,
		Storage:    e.cfg.Storage,
		Checksums:  e.cfg.Checksums,
		Uploads:    e.cfg.Uploads,
		Metadata:   e.cfg.Metadata,
		Filter:     e.cfg.Filter,
		MaxActions: e.cfg.MaxFileActions,
	}).Sync(ctx)
	if err != nil {
		return nil, err
	}

	return publish(ctx, e, session, round.Path, result)
}

// SyncFolders runs the file passes of independent folders in parallel and
// returns their results in input order. The first failure cancels the rest.
func (e *Engine) SyncFolders(ctx context.Context, opts RoundOpts, rounds []FileRound) ([]*SyncResult[*FileVersion], error) {
	results := make([]*SyncResult[*FileVersion], len(rounds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, round := range rounds {
		g.Go(func() error {
			r, err := e.SyncFiles(gctx, opts, round)
			if err != nil {
				return fmt.Errorf("sync: folder %s: %w", round.Path, err)
			}

			results[i] = r

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// ServerFileVersions lists the current server versions of the files in a
// folder, including the metadata pseudo-file when a MetadataProvider is set.
// A stale cached metadata checksum is purged from the checksum store.
func (e *Engine) ServerFileVersions(ctx context.Context, folderPath string) ([]*FileVersion, error) {
	folder, err := e.cfg.Storage.GetFolder(ctx, folderPath)
	if err != nil {
		return nil, fmt.Errorf("sync: looking up folder %s: %w", folderPath, err)
	}

	if folder == nil {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folderPath)
	}

	files, err := e.cfg.Storage.GetFilesInFolder(ctx, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("sync: listing files of %s: %w", folderPath, err)
	}

	versions := make([]*FileVersion, 0, len(files)+1)
	for _, f := range files {
		versions = append(versions, NewFileVersion(folderPath, f.Name, f.Hash))
	}

	if e.cfg.Metadata != nil {
		checksum, err := currentMetadataChecksum(ctx, e.cfg.Metadata, e.cfg.Checksums, folder, "", e.logger)
		if err != nil {
			return nil, err
		}

		versions = append(versions, NewFileVersion(folderPath, e.cfg.Filter.MetadataFileName(), checksum))
	}

	return versions, nil
}

func (e *Engine) newSession(opts RoundOpts, scope string) *Session {
	return NewSession(uuid.NewString(), opts.UserID, opts.DeviceName, opts.Diagnostics,
		e.logger.With(slog.String("scope", scope)))
}

func (e *Engine) quota(ctx context.Context) (*Quota, error) {
	reporter, ok := e.cfg.Storage.(QuotaReporter)
	if !ok {
		return nil, nil
	}

	q, err := reporter.GetQuota(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: reading quota: %w", err)
	}

	return q, nil
}

// publish assembles the result handed to the transport layer.
func publish[V Version](
	ctx context.Context, e *Engine, session *Session, scope string, result *IntermediateSyncResult[V],
) (*SyncResult[V], error) {
	quota, err := e.quota(ctx)
	if err != nil {
		return nil, err
	}

	return &SyncResult[V]{
		RoundID:          session.RoundID,
		Path:             scope,
		ActionsForClient: result.ActionsForClient,
		ActionsForServer: result.ActionsForServer,
		Diagnostics:      session.Diagnostics().Lines(),
		Quota:            quota,
		Interrupted:      result.Interrupted,
	}, nil
}
