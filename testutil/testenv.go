// Package testutil provides shared helpers for E2E tests. It depends only on
// stdlib so that E2E tests (which cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error. Existing env vars take precedence.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the drivesync CLI from moduleRoot into outDir and
// returns the binary path.
func BuildBinary(moduleRoot, outDir string) (string, error) {
	binary := filepath.Join(outDir, "drivesync")

	cmd := exec.Command("go", "build", "-o", binary, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building binary in %s: %w", moduleRoot, err)
	}

	return binary, nil
}

// IsolatedEnv returns the current environment with every DRIVESYNC_ and XDG_
// variable removed and the XDG homes pointed below dir.
func IsolatedEnv(dir string) []string {
	env := make([]string, 0, len(os.Environ())+2)

	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DRIVESYNC_") || strings.HasPrefix(kv, "XDG_") {
			continue
		}

		env = append(env, kv)
	}

	return append(env,
		"XDG_CONFIG_HOME="+filepath.Join(dir, "config"),
		"XDG_DATA_HOME="+filepath.Join(dir, "data"),
	)
}
