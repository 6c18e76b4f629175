package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// testLogger returns a debug-level logger so config debug output appears in
// test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, isync.DefaultMaxDirectoryActions, cfg.Sync.MaxDirectoryActions)
	assert.Equal(t, isync.DefaultMaxFileActions, cfg.Sync.MaxFileActions)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Empty(t, cfg.Sync.DeviceName)
	assert.False(t, cfg.Sync.Diagnostics)

	assert.Empty(t, cfg.Filter.IgnorePatterns)
	assert.Equal(t, ".drive-meta", cfg.Filter.MetadataFileName)
	assert.Equal(t, 255, cfg.Filter.MaxNameLength)
	assert.Equal(t, 1024, cfg.Filter.MaxPathLength)

	assert.Equal(t, "state.db", filepath.Base(cfg.State.DBPath))
	assert.Equal(t, "upload-sessions", filepath.Base(cfg.Uploads.SessionDir))
	assert.Equal(t, "168h", cfg.Uploads.StaleSessionAge)

	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestFilterConfig_FilterOptions(t *testing.T) {
	f := FilterConfig{
		IgnorePatterns:   []string{"*.tmp"},
		MetadataFileName: ".meta",
		MaxNameLength:    100,
		MaxPathLength:    200,
	}

	assert.Equal(t, isync.FilterOptions{
		IgnorePatterns:   []string{"*.tmp"},
		MetadataFileName: ".meta",
		MaxNameLength:    100,
		MaxPathLength:    200,
	}, f.FilterOptions())
}

func TestUploadsConfig_StaleAge(t *testing.T) {
	u := UploadsConfig{StaleSessionAge: "36h"}
	assert.Equal(t, 36*time.Hour, u.StaleAge())

	u.StaleSessionAge = "soon"
	assert.Zero(t, u.StaleAge())
}
