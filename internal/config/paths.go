package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Application directory name used across all platforms.
const appName = "drivesync"

const configFileName = "config.toml"

// dirKind selects one of the XDG base directories.
type dirKind struct {
	xdgVar   string   // e.g. XDG_CONFIG_HOME
	fallback []string // below $HOME when xdgVar is unset
}

var (
	configKind = dirKind{xdgVar: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataKind   = dirKind{xdgVar: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// DefaultConfigDir returns the platform-specific directory for the config
// file: $XDG_CONFIG_HOME/drivesync or ~/.config/drivesync, and
// ~/Library/Application Support/drivesync on macOS.
func DefaultConfigDir() string {
	return appDir(configKind)
}

// DefaultDataDir returns the platform-specific directory for the state
// database and upload records: $XDG_DATA_HOME/drivesync or
// ~/.local/share/drivesync, and ~/Library/Application Support/drivesync on
// macOS.
func DefaultDataDir() string {
	return appDir(dataKind)
}

// DefaultConfigPath returns the config file used when neither
// DRIVESYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func appDir(kind dirKind) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return appDirFor(runtime.GOOS, home, kind)
}

func appDirFor(goos, home string, kind dirKind) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv(kind.xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	parts := append([]string{home}, kind.fallback...)

	return filepath.Join(append(parts, appName)...)
}

// ExpandTilde replaces a leading "~/" with the user's home directory.
func ExpandTilde(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, rest)
}
