package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// document to w. This powers the "config show" command.
func RenderEffective(cfg *Config, source string, w io.Writer) error {
	ew := &errWriter{w: w}

	if source != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", source)
	} else {
		ew.printf("# Effective configuration (defaults)\n\n")
	}

	ew.printf("[sync]\n")
	ew.printf("max_directory_actions = %d\n", cfg.Sync.MaxDirectoryActions)
	ew.printf("max_file_actions      = %d\n", cfg.Sync.MaxFileActions)
	ew.printf("concurrency           = %d\n", cfg.Sync.Concurrency)
	ew.printf("device_name           = %q\n", cfg.Sync.DeviceName)
	ew.printf("diagnostics           = %t\n\n", cfg.Sync.Diagnostics)

	ew.printf("[filter]\n")
	ew.printf("ignore_patterns    = [%s]\n", joinQuoted(cfg.Filter.IgnorePatterns))
	ew.printf("metadata_file_name = %q\n", cfg.Filter.MetadataFileName)
	ew.printf("max_name_length    = %d\n", cfg.Filter.MaxNameLength)
	ew.printf("max_path_length    = %d\n\n", cfg.Filter.MaxPathLength)

	ew.printf("[state]\n")
	ew.printf("db_path = %q\n\n", cfg.State.DBPath)

	ew.printf("[uploads]\n")
	ew.printf("session_dir       = %q\n", cfg.Uploads.SessionDir)
	ew.printf("stale_session_age = %q\n\n", cfg.Uploads.StaleSessionAge)

	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_format = %q\n", cfg.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
