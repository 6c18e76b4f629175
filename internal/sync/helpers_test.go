package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	gosync "sync"
	"testing"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

const testUserID = 7

func newTestSession(t *testing.T) *Session {
	t.Helper()

	return NewSession("round-1", testUserID, "", true, testLogger(t))
}

// dispatch routes one comparison through the driver into a fresh result.
func dispatch[V Version](
	t *testing.T, session *Session, policy Policy[V], c *ThreeWayComparison[V],
) (int, *IntermediateSyncResult[V], error) {
	t.Helper()

	result := NewIntermediateSyncResult[V]()
	d := newSynchronizer(session, NewVersionMapper[V](nil, nil, nil), policy)
	cost, err := d.process(context.Background(), result, c)

	return cost, result, err
}

// allPermissions is an admin permission with every tier at maximum.
var allPermissions = Permission{
	Folder: FolderMaximum,
	Read:   ObjectMaximum,
	Write:  ObjectMaximum,
	Delete: ObjectMaximum,
	Admin:  true,
}

// --- fakeStorage ---

type fakeStorage struct {
	folders map[string]*Folder
	perms   map[string]Permission
	files   map[string][]*File // by folder ID
	quota   *Quota
	err     error
	nextID  int
}

func newFakeStorage() *fakeStorage {
	s := &fakeStorage{
		folders: make(map[string]*Folder),
		perms:   make(map[string]Permission),
		files:   make(map[string][]*File),
	}
	s.addFolder("/", allPermissions)

	return s
}

func (s *fakeStorage) addFolder(p string, perm Permission) *Folder {
	s.nextID++
	f := &Folder{ID: fmt.Sprintf("f%d", s.nextID), Path: p}
	s.folders[p] = f
	s.perms[p] = perm

	return f
}

func (s *fakeStorage) addFile(folderPath, name, hash string, createdBy int) *File {
	folder := s.folders[folderPath]
	s.nextID++
	f := &File{ID: fmt.Sprintf("file%d", s.nextID), FolderID: folder.ID, Name: name, Hash: hash, CreatedBy: createdBy}
	s.files[folder.ID] = append(s.files[folder.ID], f)

	return f
}

func (s *fakeStorage) GetFolder(_ context.Context, p string) (*Folder, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.folders[p], nil
}

func (s *fakeStorage) GetOwnPermission(_ context.Context, p string) (Permission, error) {
	if s.err != nil {
		return Permission{}, s.err
	}

	return s.perms[p], nil
}

func (s *fakeStorage) GetFilesInFolder(_ context.Context, folderID string) ([]*File, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.files[folderID], nil
}

func (s *fakeStorage) GetSubfolders(_ context.Context, p string) ([]*Folder, error) {
	if s.err != nil {
		return nil, s.err
	}

	prefix := strings.TrimSuffix(p, "/") + "/"

	var out []*Folder
	for fp, f := range s.folders {
		if fp != p && strings.HasPrefix(fp, prefix) {
			out = append(out, f)
		}
	}

	return out, nil
}

func (s *fakeStorage) GetQuota(context.Context) (*Quota, error) {
	return s.quota, nil
}

// --- fakeChecksums ---

type fakeChecksums struct {
	mu                 gosync.Mutex
	cached             map[string][]string // by file ID
	removedFiles       []string
	removedDirectories []string
}

func (c *fakeChecksums) FileChecksums(_ context.Context, fileID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.cached[fileID]), nil
}

func (c *fakeChecksums) PutFileChecksum(_ context.Context, fileID, checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		c.cached = make(map[string][]string)
	}

	c.cached[fileID] = append(c.cached[fileID], checksum)

	return nil
}

func (c *fakeChecksums) RemoveFileChecksum(_ context.Context, fileID, checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached[fileID] = slices.DeleteFunc(c.cached[fileID], func(s string) bool { return s == checksum })
	c.removedFiles = append(c.removedFiles, fileID)

	return nil
}

func (c *fakeChecksums) RemoveFileChecksums(_ context.Context, fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cached, fileID)
	c.removedFiles = append(c.removedFiles, fileID)

	return nil
}

func (c *fakeChecksums) RemoveDirectoryChecksum(_ context.Context, folderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removedDirectories = append(c.removedDirectories, folderID)

	return nil
}

// --- fakeUploads ---

type fakeUploads struct {
	offsets  map[string]int64 // by file name
	short    bool
	requests [][]*FileVersion
}

func (u *fakeUploads) GetUploadOffsets(_ context.Context, _ string, versions []*FileVersion) ([]int64, error) {
	u.requests = append(u.requests, versions)

	out := make([]int64, 0, len(versions))
	for _, v := range versions {
		out = append(out, u.offsets[v.Name])
	}

	if u.short && len(out) > 0 {
		out = out[1:]
	}

	return out, nil
}

// --- fakeMetadata ---

type fakeMetadata struct {
	checksum string
	err      error
}

func (m *fakeMetadata) MetadataChecksum(context.Context, *Folder) (string, error) {
	return m.checksum, m.err
}

var errBackend = errors.New("backend unavailable")
