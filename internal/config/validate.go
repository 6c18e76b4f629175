package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Validation range constants.
const (
	// Leaves room for a couple of keep-both resolutions (four actions each).
	minActionCeiling = 10
	maxActionCeiling = 100_000
	minConcurrency   = 1
	maxConcurrency   = 64
	minNameLength    = 1
	minPathLength    = 16
	minStaleAge      = time.Hour
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateUploads(&cfg.Uploads)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateRange("max_directory_actions", s.MaxDirectoryActions, minActionCeiling, maxActionCeiling)...)
	errs = append(errs, validateRange("max_file_actions", s.MaxFileActions, minActionCeiling, maxActionCeiling)...)
	errs = append(errs, validateRange("concurrency", s.Concurrency, minConcurrency, maxConcurrency)...)

	if err := isync.ValidateDeviceName(s.DeviceName); err != nil {
		errs = append(errs, fmt.Errorf("device_name: %w", err))
	}

	return errs
}

func validateRange(field string, value, lo, hi int) []error {
	if value < lo || value > hi {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, lo, hi, value)}
	}

	return nil
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	if f.MetadataFileName == "" {
		errs = append(errs, errors.New("metadata_file_name: must not be empty"))
	} else if strings.Contains(f.MetadataFileName, "/") {
		errs = append(errs, fmt.Errorf("metadata_file_name: must be a plain name, got %q", f.MetadataFileName))
	}

	if f.MaxNameLength < minNameLength {
		errs = append(errs, fmt.Errorf("max_name_length: must be >= %d, got %d", minNameLength, f.MaxNameLength))
	}

	if f.MaxPathLength < minPathLength {
		errs = append(errs, fmt.Errorf("max_path_length: must be >= %d, got %d", minPathLength, f.MaxPathLength))
	}

	for i, p := range f.IgnorePatterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("ignore_patterns[%d]: must not be blank", i))
		}
	}

	return errs
}

func validateState(s *StateConfig) []error {
	if s.DBPath == "" {
		return []error{errors.New("db_path: must not be empty")}
	}

	return nil
}

func validateUploads(u *UploadsConfig) []error {
	var errs []error

	if u.SessionDir == "" {
		errs = append(errs, errors.New("session_dir: must not be empty"))
	}

	d, err := time.ParseDuration(u.StaleSessionAge)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("stale_session_age: invalid duration %q: %w", u.StaleSessionAge, err))
	case d < minStaleAge:
		errs = append(errs, fmt.Errorf("stale_session_age: must be >= %s, got %s", minStaleAge, d))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
