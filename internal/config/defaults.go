package config

import (
	"path/filepath"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Default values for configuration options. These represent "layer 0" of the
// four-layer override chain.
const (
	defaultConcurrency     = 4
	defaultStaleSessionAge = "168h"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	stateDBFileName        = "state.db"
	sessionDirName         = "upload-sessions"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync:    defaultSyncConfig(),
		Filter:  defaultFilterConfig(),
		State:   defaultStateConfig(),
		Uploads: defaultUploadsConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxDirectoryActions: isync.DefaultMaxDirectoryActions,
		MaxFileActions:      isync.DefaultMaxFileActions,
		Concurrency:         defaultConcurrency,
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		MetadataFileName: isync.DefaultMetadataFileName,
		MaxNameLength:    isync.DefaultMaxNameLength,
		MaxPathLength:    isync.DefaultMaxPathLength,
	}
}

func defaultStateConfig() StateConfig {
	return StateConfig{DBPath: dataFile(stateDBFileName)}
}

func defaultUploadsConfig() UploadsConfig {
	return UploadsConfig{
		SessionDir:      dataFile(sessionDirName),
		StaleSessionAge: defaultStaleSessionAge,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

// dataFile places name in the data directory, or leaves it relative when the
// home directory cannot be determined.
func dataFile(name string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return name
	}

	return filepath.Join(dir, name)
}
