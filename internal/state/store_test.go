package state

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// newTestStore opens a Store in a temp directory, closed on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})

	return store
}

func dir(p, hash string) *isync.DirectoryVersion {
	return isync.NewDirectoryVersion(p, hash)
}

// seedDirectories makes versions the remembered tree below root.
func seedDirectories(t *testing.T, store *Store, root string, versions ...*isync.DirectoryVersion) {
	t.Helper()

	require.NoError(t, store.CommitDirectoryResult(context.Background(), DirectoryCommit{
		Result:   &isync.SyncResult[*isync.DirectoryVersion]{Path: root},
		Original: versions,
	}))
}

// seedFiles makes versions the remembered files of folder.
func seedFiles(t *testing.T, store *Store, folder string, versions ...*isync.FileVersion) {
	t.Helper()

	require.NoError(t, store.CommitFileResults(context.Background(), []FileCommit{{
		Result:   &isync.SyncResult[*isync.FileVersion]{Path: folder},
		Original: versions,
	}}))
}

func TestOpen_CreatesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"directory_versions", "file_versions", "file_checksums", "directory_checksums"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)
	seedFiles(t, store, "/docs", isync.NewFileVersion("/docs", "a.txt", "1"))
	require.NoError(t, store.Close())

	store, err = Open(ctx, dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	files, err := store.FileVersions(ctx, "/docs")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
}

func TestOpen_BadPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "state.db"), testLogger(t))
	assert.Error(t, err)
}

func TestDirectoryVersions_Subtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedDirectories(t, store, "/",
		dir("/", "r"),
		dir("/docs", "d"),
		dir("/docs/a", "a"),
		dir("/Docs2", "x"),
		dir("/docsx", "y"),
		dir("/DOCS/b", "z"),
	)

	all, err := store.DirectoryVersions(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	docs, err := store.DirectoryVersions(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, []*isync.DirectoryVersion{dir("/docs", "d"), dir("/docs/a", "a")}, docs)
}

func TestCommitDirectoryResult_OriginalOnlyReplacesSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedDirectories(t, store, "/", dir("/", "r"), dir("/docs", "d"), dir("/docs/old", "o"), dir("/music", "m"))
	seedDirectories(t, store, "/docs", dir("/docs", "d2"), dir("/docs/new", "n"))

	all, err := store.DirectoryVersions(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []*isync.DirectoryVersion{
		dir("/", "r"), dir("/docs", "d2"), dir("/docs/new", "n"), dir("/music", "m"),
	}, all)
}

func TestFileVersions_PerFolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedFiles(t, store, "/a", isync.NewFileVersion("/a", "z.txt", "1"), isync.NewFileVersion("/a", "b.txt", "2"))
	seedFiles(t, store, "/b", isync.NewFileVersion("/b", "c.txt", "3"))

	files, err := store.FileVersions(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []*isync.FileVersion{
		isync.NewFileVersion("/a", "b.txt", "2"),
		isync.NewFileVersion("/a", "z.txt", "1"),
	}, files)

	empty, err := store.FileVersions(ctx, "/none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCommitDirectoryResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedDirectories(t, store, "/", dir("/", "r"), dir("/old", "o"), dir("/gone", "g"), dir("/removed", "x"), dir("/kept", "k"))

	result := &isync.SyncResult[*isync.DirectoryVersion]{
		RoundID: "round",
		Path:    "/",
		ActionsForClient: []*isync.Action[*isync.DirectoryVersion]{
			{Type: isync.ActionAcknowledge, From: dir("/old", "o"), To: dir("/New", "o")},
			{Type: isync.ActionAcknowledge, From: dir("/gone", "g")},
			{Type: isync.ActionAcknowledge, To: dir("/created", "c")},
			{Type: isync.ActionRemove, From: dir("/removed", "x")},
			{Type: isync.ActionSync, From: dir("/kept", "k"), To: dir("/kept", "k2")},
		},
	}

	require.NoError(t, store.CommitDirectoryResult(ctx, DirectoryCommit{
		Result:    result,
		Checksums: map[string]string{"f1": "r", "f2": "o"},
	}))

	all, err := store.DirectoryVersions(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []*isync.DirectoryVersion{
		dir("/", "r"), dir("/New", "o"), dir("/created", "c"), dir("/kept", "k"),
	}, all)

	checksum, ok, err := store.DirectoryChecksum(ctx, "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "o", checksum)
}

// Explicit originals are recorded before the acknowledgements apply to them.
func TestCommitDirectoryResult_WithOriginal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedDirectories(t, store, "/", dir("/", "r"), dir("/stale", "s"))

	require.NoError(t, store.CommitDirectoryResult(ctx, DirectoryCommit{
		Result: &isync.SyncResult[*isync.DirectoryVersion]{
			Path: "/",
			ActionsForClient: []*isync.Action[*isync.DirectoryVersion]{
				{Type: isync.ActionAcknowledge, From: dir("/a", "1"), To: dir("/a", "2")},
			},
		},
		Original: []*isync.DirectoryVersion{dir("/", "r"), dir("/a", "1"), dir("/b", "b")},
	}))

	all, err := store.DirectoryVersions(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []*isync.DirectoryVersion{dir("/", "r"), dir("/a", "2"), dir("/b", "b")}, all)
}

func TestCommitFileResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	fv := func(name, hash string) *isync.FileVersion { return isync.NewFileVersion("/docs", name, hash) }

	seedFiles(t, store, "/docs", fv("a.txt", "1"), fv("b.txt", "2"), fv("c.txt", "3"))

	result := &isync.SyncResult[*isync.FileVersion]{
		RoundID: "round",
		Path:    "/docs",
		ActionsForClient: []*isync.Action[*isync.FileVersion]{
			{Type: isync.ActionAcknowledge, From: fv("a.txt", "1"), To: fv("a.txt", "9")},
			{Type: isync.ActionAcknowledge, From: fv("b.txt", "2"), To: fv("B.txt", "2")},
			{Type: isync.ActionRemove, From: fv("c.txt", "3")},
			{Type: isync.ActionDownload, To: fv("d.txt", "4")},
		},
	}

	require.NoError(t, store.CommitFileResults(ctx, []FileCommit{{Result: result}}))

	files, err := store.FileVersions(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, []*isync.FileVersion{fv("B.txt", "2"), fv("a.txt", "9")}, files)
}

// A failing folder rolls back the folders committed before it.
func TestCommitFileResults_SingleTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	seedFiles(t, store, "/a", isync.NewFileVersion("/a", "x.txt", "1"))

	err := store.CommitFileResults(ctx, []FileCommit{
		{
			Result: &isync.SyncResult[*isync.FileVersion]{
				Path: "/a",
				ActionsForClient: []*isync.Action[*isync.FileVersion]{{
					Type: isync.ActionAcknowledge,
					From: isync.NewFileVersion("/a", "x.txt", "1"),
					To:   isync.NewFileVersion("/a", "x.txt", "2"),
				}},
			},
			Original: []*isync.FileVersion{isync.NewFileVersion("/a", "x.txt", "1")},
		},
		{Result: &isync.SyncResult[*isync.FileVersion]{}},
	})
	require.ErrorIs(t, err, errNoResultPath)

	files, err := store.FileVersions(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []*isync.FileVersion{isync.NewFileVersion("/a", "x.txt", "1")}, files)
}

func TestCommit_CanceledContext(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.CommitFileResults(ctx, []FileCommit{{Result: &isync.SyncResult[*isync.FileVersion]{Path: "/"}}})
	assert.Error(t, err)
}
