// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for drivesync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import (
	"time"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Filter  FilterConfig  `toml:"filter"`
	State   StateConfig   `toml:"state"`
	Uploads UploadsConfig `toml:"uploads"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig controls the per-round action ceilings and how rounds identify
// the acting device.
type SyncConfig struct {
	MaxDirectoryActions int    `toml:"max_directory_actions"`
	MaxFileActions      int    `toml:"max_file_actions"`
	Concurrency         int    `toml:"concurrency"`
	DeviceName          string `toml:"device_name"`
	Diagnostics         bool   `toml:"diagnostics"`
}

// FilterConfig controls which names the engine accepts from clients.
// Ignore patterns use gitignore syntax, matched against the path below the
// sync root.
type FilterConfig struct {
	IgnorePatterns   []string `toml:"ignore_patterns"`
	MetadataFileName string   `toml:"metadata_file_name"`
	MaxNameLength    int      `toml:"max_name_length"`
	MaxPathLength    int      `toml:"max_path_length"`
}

// FilterOptions converts the section into the engine's filter options.
func (f *FilterConfig) FilterOptions() isync.FilterOptions {
	return isync.FilterOptions{
		IgnorePatterns:   f.IgnorePatterns,
		MetadataFileName: f.MetadataFileName,
		MaxNameLength:    f.MaxNameLength,
		MaxPathLength:    f.MaxPathLength,
	}
}

// StateConfig locates the database of remembered versions.
type StateConfig struct {
	DBPath string `toml:"db_path"`
}

// UploadsConfig controls the resumable-upload record store.
type UploadsConfig struct {
	SessionDir      string `toml:"session_dir"`
	StaleSessionAge string `toml:"stale_session_age"`
}

// StaleAge returns the parsed stale_session_age. Validate guarantees it parses.
func (u *UploadsConfig) StaleAge() time.Duration {
	d, err := time.ParseDuration(u.StaleSessionAge)
	if err != nil {
		return 0
	}

	return d
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath  string  // --config flag (empty = use default)
	StateDB     *string // --state-db flag
	DeviceName  *string // --device flag
	Diagnostics *bool   // --diagnostics flag
}
