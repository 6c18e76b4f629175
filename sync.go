package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/open-xchange/appsuite-middleware-sub159/internal/config"
	"github.com/open-xchange/appsuite-middleware-sub159/internal/state"
	"github.com/open-xchange/appsuite-middleware-sub159/internal/storage"
	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
	"github.com/open-xchange/appsuite-middleware-sub159/internal/uploads"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Compute the actions of a sync round",
		Long: `Run one round of the three-way sync against a storage snapshot.

The round file holds the versions the client reports. Server versions come
from the --storage snapshot unless the round file lists them, and original
versions come from the state database unless the round file lists them.
Use --commit to record the delivered result as the new original versions.`,
	}

	cmd.PersistentFlags().String("storage", "", "storage snapshot (JSON)")
	cmd.PersistentFlags().Bool("commit", false, "record the result in the state database")
	_ = cmd.MarkPersistentFlagRequired("storage")

	cmd.AddCommand(newSyncDirsCmd())
	cmd.AddCommand(newSyncFilesCmd())

	return cmd
}

func newSyncDirsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirs ROUND_FILE",
		Short: "Synchronize the directory tree below the round's root",
		Args:  cobra.ExactArgs(1),
		RunE:  runSyncDirs,
	}
}

func newSyncFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files ROUND_FILE",
		Short: "Synchronize the files of the round's folders",
		Args:  cobra.ExactArgs(1),
		RunE:  runSyncFiles,
	}
}

// syncSession bundles the collaborators of one CLI sync invocation.
type syncSession struct {
	engine  *isync.Engine
	storage *storage.Memory
	state   *state.Store
	logger  *slog.Logger
	opts    isync.RoundOpts
	commit  bool
}

func newSyncSession(cmd *cobra.Command, cfg *config.Config, userID int) (*syncSession, error) {
	logger := buildLogger(os.Stderr)

	snapshotPath, err := cmd.Flags().GetString("storage")
	if err != nil {
		return nil, err
	}

	commit, err := cmd.Flags().GetBool("commit")
	if err != nil {
		return nil, err
	}

	mem, err := storage.LoadSnapshotFile(snapshotPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	st, err := state.Open(cmd.Context(), cfg.State.DBPath, logger)
	if err != nil {
		return nil, err
	}

	engine := isync.NewEngine(isync.EngineConfig{
		Storage:             mem,
		Checksums:           st,
		Uploads:             uploads.NewStore(cfg.Uploads.SessionDir, cfg.Uploads.StaleAge(), logger),
		Metadata:            mem,
		Filter:              isync.NewNameFilter(cfg.Filter.FilterOptions(), logger),
		MaxDirectoryActions: cfg.Sync.MaxDirectoryActions,
		MaxFileActions:      cfg.Sync.MaxFileActions,
		Concurrency:         cfg.Sync.Concurrency,
		Logger:              logger,
	})

	return &syncSession{
		engine:  engine,
		storage: mem,
		state:   st,
		logger:  logger,
		opts: isync.RoundOpts{
			UserID:      userID,
			DeviceName:  cfg.Sync.DeviceName,
			Diagnostics: cfg.Sync.Diagnostics,
		},
		commit: commit,
	}, nil
}

func (s *syncSession) Close() error {
	return s.state.Close()
}

func runSyncDirs(cmd *cobra.Command, args []string) error {
	round, err := readDirectoryRound(args[0])
	if err != nil {
		return err
	}

	s, err := newSyncSession(cmd, resolvedCfg, round.UserID)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.syncDirectories(cmd.Context(), round)
	if err != nil {
		return err
	}

	return printResults(cmd, []resultView{newResultView(result)})
}

func (s *syncSession) syncDirectories(
	ctx context.Context, round *directoryRoundFile,
) (*isync.SyncResult[*isync.DirectoryVersion], error) {
	server := toDirectoryVersions(round.Server)
	if server == nil {
		var err error
		if server, err = s.storage.DirectoryVersions(round.Root); err != nil {
			return nil, err
		}
	}

	explicit := toDirectoryVersions(round.Original)

	original := explicit
	if original == nil {
		remembered, err := s.state.DirectoryVersions(ctx, round.Root)
		if err != nil {
			return nil, err
		}

		if original, err = s.dropInvalidated(ctx, remembered); err != nil {
			return nil, err
		}
	}

	result, err := s.engine.SyncDirectories(ctx, s.opts, isync.DirectoryRound{
		Root:     round.Root,
		Client:   toDirectoryVersions(round.Client),
		Server:   server,
		Original: original,
	})
	if err != nil {
		return nil, err
	}

	if s.commit {
		checksums, err := s.folderChecksums(ctx, server)
		if err != nil {
			return nil, err
		}

		err = s.state.CommitDirectoryResult(ctx, state.DirectoryCommit{
			Result:    result,
			Original:  explicit,
			Checksums: checksums,
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// dropInvalidated leaves out remembered directories whose recorded checksum
// was purged after the last commit, so the round treats them as new and the
// client synchronizes them again.
func (s *syncSession) dropInvalidated(
	ctx context.Context, remembered []*isync.DirectoryVersion,
) ([]*isync.DirectoryVersion, error) {
	kept := make([]*isync.DirectoryVersion, 0, len(remembered))

	for _, v := range remembered {
		folder, err := s.storage.GetFolder(ctx, v.Path)
		if err != nil {
			return nil, err
		}

		if folder == nil {
			kept = append(kept, v)
			continue
		}

		_, ok, err := s.state.DirectoryChecksum(ctx, folder.ID)
		if err != nil {
			return nil, err
		}

		if !ok {
			s.logger.Info("directory checksum invalidated, synchronizing again", slog.String("path", v.Path))
			continue
		}

		kept = append(kept, v)
	}

	return kept, nil
}

// folderChecksums maps the served server versions to their folder IDs.
// Versions of folders the storage does not know are skipped.
func (s *syncSession) folderChecksums(ctx context.Context, server []*isync.DirectoryVersion) (map[string]string, error) {
	checksums := make(map[string]string, len(server))

	for _, v := range server {
		folder, err := s.storage.GetFolder(ctx, v.Path)
		if err != nil {
			return nil, err
		}

		if folder != nil {
			checksums[folder.ID] = v.Hash
		}
	}

	return checksums, nil
}

func runSyncFiles(cmd *cobra.Command, args []string) error {
	round, err := readFileRound(args[0])
	if err != nil {
		return err
	}

	s, err := newSyncSession(cmd, resolvedCfg, round.UserID)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.syncFiles(cmd.Context(), round)
	if err != nil {
		return err
	}

	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, newResultView(r))
	}

	return printResults(cmd, views)
}

func (s *syncSession) syncFiles(ctx context.Context, round *fileRoundFile) ([]*isync.SyncResult[*isync.FileVersion], error) {
	rounds := make([]isync.FileRound, 0, len(round.Folders))

	for _, f := range round.Folders {
		original := toFileVersions(f.Path, f.Original)
		if original == nil {
			var err error
			if original, err = s.state.FileVersions(ctx, f.Path); err != nil {
				return nil, err
			}
		}

		rounds = append(rounds, isync.FileRound{
			Path:     f.Path,
			Client:   toFileVersions(f.Path, f.Client),
			Server:   toFileVersions(f.Path, f.Server),
			Original: original,
		})
	}

	results, err := s.engine.SyncFolders(ctx, s.opts, rounds)
	if err != nil {
		return nil, err
	}

	if s.commit {
		commits := make([]state.FileCommit, len(results))
		for i, r := range results {
			commits[i] = state.FileCommit{Result: r, Original: toFileVersions(r.Path, round.Folders[i].Original)}
		}

		if err := s.state.CommitFileResults(ctx, commits); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func printResults(cmd *cobra.Command, views []resultView) error {
	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, views)
	}

	for _, v := range views {
		printResultText(out, v)
	}

	return nil
}
