package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-xchange/appsuite-middleware-sub159/internal/uploads"
)

func newUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage resumable upload session records",
	}

	cmd.AddCommand(newUploadsCleanCmd())
	cmd.AddCommand(newUploadsRecordCmd())
	cmd.AddCommand(newUploadsForgetCmd())

	return cmd
}

func newUploadsCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete upload session records older than the stale age",
		Args:  cobra.NoArgs,
		RunE:  runUploadsClean,
	}

	cmd.Flags().Duration("older-than", 0, "override [uploads] stale_session_age")

	return cmd
}

func runUploadsClean(cmd *cobra.Command, _ []string) error {
	maxAge := resolvedCfg.Uploads.StaleAge()

	if cmd.Flags().Changed("older-than") {
		d, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}

		maxAge = d
	}

	if maxAge <= 0 {
		return fmt.Errorf("invalid record age %s", maxAge)
	}

	store := uploads.NewStore(resolvedCfg.Uploads.SessionDir, maxAge, buildLogger(os.Stderr))

	deleted, err := store.CleanStale(maxAge)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"session_dir": resolvedCfg.Uploads.SessionDir,
			"max_age":     maxAge.String(),
			"deleted":     deleted,
		})
	}

	statusf(flagQuiet, "Deleted %d upload record(s) older than %s from %s\n",
		deleted, maxAge.Round(time.Second), resolvedCfg.Uploads.SessionDir)

	return nil
}

func newUploadsRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record PATH CHECKSUM",
		Short: "Record how many bytes of an upload the server has received",
		Long: `Record the progress of a resumable upload of the version (PATH, CHECKSUM).
The next sync round stamps the recorded offset on a matching UPLOAD action.`,
		Args: cobra.ExactArgs(2),
		RunE: runUploadsRecord,
	}

	cmd.Flags().Int64("offset", 0, "bytes already received")
	cmd.Flags().Int64("size", 0, "total size of the version, if known")
	_ = cmd.MarkFlagRequired("offset")

	return cmd
}

func runUploadsRecord(cmd *cobra.Command, args []string) error {
	filePath, checksum := args[0], args[1]

	offset, err := cmd.Flags().GetInt64("offset")
	if err != nil {
		return err
	}

	size, err := cmd.Flags().GetInt64("size")
	if err != nil {
		return err
	}

	if offset < 0 || size < 0 {
		return errors.New("offset and size must not be negative")
	}

	if size > 0 && offset > size {
		return fmt.Errorf("offset %d exceeds size %d", offset, size)
	}

	store := uploads.NewStore(resolvedCfg.Uploads.SessionDir, resolvedCfg.Uploads.StaleAge(), buildLogger(os.Stderr))

	rec, err := store.Load(filePath, checksum)
	if err != nil && !errors.Is(err, uploads.ErrCorruptRecord) {
		return err
	}

	if rec == nil {
		rec = &uploads.Record{Path: filePath, Checksum: checksum}
	}

	rec.Offset = offset
	rec.Size = size

	if err := store.Save(rec); err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}

	statusf(flagQuiet, "Recorded %s of %s (upload %s)\n", formatSize(offset), filePath, rec.UploadID)

	return nil
}

func newUploadsForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget PATH CHECKSUM",
		Short: "Drop the upload record of a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := uploads.NewStore(resolvedCfg.Uploads.SessionDir, resolvedCfg.Uploads.StaleAge(), buildLogger(os.Stderr))

			if err := store.Delete(args[0], args[1]); err != nil {
				return err
			}

			statusf(flagQuiet, "Forgot upload record of %s\n", args[0])

			return nil
		},
	}
}
