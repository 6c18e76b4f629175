package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-xchange/appsuite-middleware-sub159/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either
//   - set globals AFTER newRootCmd() returns (direct function tests), or
//   - use runCLI so Cobra parses the flags.

// runCLI executes the root command with args in an isolated environment and
// returns what the command wrote to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvStateDB, "")
	t.Setenv(config.EnvDevice, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func saveLoggingGlobals(t *testing.T) {
	t.Helper()

	oldVerbose, oldQuiet, oldCfg := flagVerbose, flagQuiet, resolvedCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, resolvedCfg = oldVerbose, oldQuiet, oldCfg
	})
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		cfgLevel  string
		verbose   bool
		quiet     bool
		wantLevel slog.Level
	}{
		{"no config", "", false, false, slog.LevelInfo},
		{"config debug", "debug", false, false, slog.LevelDebug},
		{"config warn", "warn", false, false, slog.LevelWarn},
		{"config error", "error", false, false, slog.LevelError},
		{"verbose beats config", "error", true, false, slog.LevelDebug},
		{"quiet beats config", "debug", false, true, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saveLoggingGlobals(t)

			resolvedCfg = nil
			if tt.cfgLevel != "" {
				resolvedCfg = config.DefaultConfig()
				resolvedCfg.Logging.LogLevel = tt.cfgLevel
			}

			flagVerbose = tt.verbose
			flagQuiet = tt.quiet

			logger := buildLogger(io.Discard)
			ctx := context.Background()

			assert.True(t, logger.Enabled(ctx, tt.wantLevel))
			assert.False(t, logger.Enabled(ctx, tt.wantLevel-1))
		})
	}
}

func TestBuildLogger_JSONFormat(t *testing.T) {
	saveLoggingGlobals(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogFormat = "json"
	flagVerbose = false
	flagQuiet = false

	var buf bytes.Buffer
	buildLogger(&buf).Info("hello", slog.String("path", "/docs"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "/docs", entry["path"])
}

func TestUseJSONLogs(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "log"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	assert.True(t, useJSONLogs("json", io.Discard))
	assert.False(t, useJSONLogs("text", f))
	assert.False(t, useJSONLogs("auto", &bytes.Buffer{}))
	assert.True(t, useJSONLogs("auto", f), "a regular file is not a terminal")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\ndevice_name = \"file\"\n"), 0o600))

	out, err := runCLI(t, "config", "show", "--json", "--config", cfgPath, "--device", "flag", "--diagnostics")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "flag", cfg.Sync.DeviceName)
	assert.True(t, cfg.Sync.Diagnostics)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\ndevice_name = \"file\"\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"config", "show", "--config", cfgPath})

	t.Setenv(config.EnvDevice, "env")
	t.Setenv(config.EnvStateDB, "")
	t.Setenv(config.EnvConfig, "")

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "env", resolvedCfg.Sync.DeviceName)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\nmax_file_action = 3\n"), 0o600))

	_, err := runCLI(t, "config", "show", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
	assert.Contains(t, err.Error(), "did you mean")
}
