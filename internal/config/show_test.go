package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_Defaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEffective(DefaultConfig(), "", &buf))

	out := buf.String()
	assert.Contains(t, out, "# Effective configuration (defaults)")

	for _, section := range knownSections {
		assert.Contains(t, out, "["+section+"]")
	}

	assert.Contains(t, out, `metadata_file_name = ".drive-meta"`)
	assert.Contains(t, out, "ignore_patterns    = []")
}

func TestRenderEffective_RoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.DeviceName = "desk"
	cfg.Sync.Diagnostics = true
	cfg.Filter.IgnorePatterns = []string{"*.tmp", `we"ird`}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/drivesync.toml", &buf))
	assert.Contains(t, buf.String(), "(file: /etc/drivesync.toml)")

	path := filepath.Join(t.TempDir(), "rendered.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "", failingWriter{})
	assert.EqualError(t, err, "disk full")
}
