// Package storage provides an in-memory folder/file backend for the sync
// engine, loadable from a JSON snapshot. It answers the engine's Storage,
// QuotaReporter and MetadataProvider queries and derives the server-side
// version lists of a round.
package storage

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is the directory checksum format, not a security boundary.
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"
	gosync "sync"

	"github.com/samber/lo"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Memory is an in-memory Storage. Safe for concurrent use.
type Memory struct {
	mu      gosync.RWMutex
	folders map[string]*isync.Folder    // by path
	perms   map[string]isync.Permission // by path
	files   map[string][]*isync.File    // by folder ID
	quota   *isync.Quota
	nextID  int
}

var (
	_ isync.Storage          = (*Memory)(nil)
	_ isync.QuotaReporter    = (*Memory)(nil)
	_ isync.MetadataProvider = (*Memory)(nil)
)

// NewMemory returns an empty backend holding only the root folder.
func NewMemory(rootPermission isync.Permission) *Memory {
	m := &Memory{
		folders: make(map[string]*isync.Folder),
		perms:   make(map[string]isync.Permission),
		files:   make(map[string][]*isync.File),
	}

	m.folders["/"] = &isync.Folder{ID: m.newID(), Path: "/"}
	m.perms["/"] = rootPermission

	return m
}

func (m *Memory) newID() string {
	m.nextID++
	return fmt.Sprintf("%d", m.nextID)
}

// AddFolder creates the folder at p, and any missing ancestors with the same
// permission. Existing folders keep their identity but take the permission.
func (m *Memory) AddFolder(p string, perm isync.Permission) (*isync.Folder, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addFolder(p, perm, ""), nil
}

func (m *Memory) addFolder(p string, perm isync.Permission, id string) *isync.Folder {
	if f, ok := m.folders[p]; ok {
		m.perms[p] = perm
		return f
	}

	if parent := path.Dir(p); parent != p {
		if _, ok := m.folders[parent]; !ok {
			m.addFolder(parent, perm, "")
		}
	}

	if id == "" {
		id = m.newID()
	}

	f := &isync.Folder{ID: id, Path: p}
	m.folders[p] = f
	m.perms[p] = perm

	return f
}

// AddFile stores a file in the folder at folderPath, replacing any file of
// the same name.
func (m *Memory) AddFile(folderPath string, file isync.File) (*isync.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	folder, ok := m.folders[folderPath]
	if !ok {
		return nil, fmt.Errorf("storage: adding %s: %w: %s", file.Name, isync.ErrFolderNotFound, folderPath)
	}

	if file.ID == "" {
		file.ID = m.newID()
	}

	file.FolderID = folder.ID

	m.files[folder.ID] = slices.DeleteFunc(m.files[folder.ID], func(f *isync.File) bool { return f.Name == file.Name })
	m.files[folder.ID] = append(m.files[folder.ID], &file)

	return &file, nil
}

// SetQuota sets the quota reported to rounds; nil reports none.
func (m *Memory) SetQuota(q *isync.Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quota = q
}

// GetFolder returns the folder at p, or nil.
func (m *Memory) GetFolder(_ context.Context, p string) (*isync.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.folders[p], nil
}

// GetOwnPermission returns the permission on the folder at p. Unknown
// folders grant nothing.
func (m *Memory) GetOwnPermission(_ context.Context, p string) (isync.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.perms[p], nil
}

// GetFilesInFolder lists the files of a folder ordered by name.
func (m *Memory) GetFilesInFolder(_ context.Context, folderID string) ([]*isync.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedFiles(folderID), nil
}

// GetSubfolders lists every folder below p ordered by path.
func (m *Memory) GetSubfolders(_ context.Context, p string) ([]*isync.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.subfolders(p), nil
}

func (m *Memory) subfolders(p string) []*isync.Folder {
	prefix := strings.TrimSuffix(p, "/") + "/"

	out := lo.Filter(lo.Values(m.folders), func(f *isync.Folder, _ int) bool {
		return f.Path != p && strings.HasPrefix(f.Path, prefix)
	})
	slices.SortFunc(out, func(a, b *isync.Folder) int { return strings.Compare(a.Path, b.Path) })

	return out
}

// GetQuota returns the configured quota.
func (m *Memory) GetQuota(context.Context) (*isync.Quota, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.quota, nil
}

// MetadataChecksum derives the checksum of a folder's metadata pseudo-file
// from the folder's path, permission and file list.
func (m *Memory) MetadataChecksum(_ context.Context, folder *isync.Folder) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.folders[folder.Path]
	if !ok || current.ID != folder.ID {
		return "", fmt.Errorf("storage: metadata of %s: %w", folder.Path, isync.ErrFolderNotFound)
	}

	data, err := json.Marshal(struct {
		Path       string           `json:"path"`
		Permission permissionRecord `json:"permission"`
		Files      []string         `json:"files"`
	}{
		Path:       folder.Path,
		Permission: toPermissionRecord(m.perms[folder.Path]),
		Files:      lo.Map(m.sortedFiles(folder.ID), func(f *isync.File, _ int) string { return f.Name }),
	})
	if err != nil {
		return "", fmt.Errorf("storage: encoding metadata of %s: %w", folder.Path, err)
	}

	sum := md5.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:]), nil
}

// DirectoryVersions returns the server version of root and of every folder
// below it, ordered by path. A folder's checksum aggregates its files.
func (m *Memory) DirectoryVersions(root string) ([]*isync.DirectoryVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	top, ok := m.folders[root]
	if !ok {
		return nil, fmt.Errorf("storage: %w: %s", isync.ErrFolderNotFound, root)
	}

	folders := append([]*isync.Folder{top}, m.subfolders(root)...)

	return lo.Map(folders, func(f *isync.Folder, _ int) *isync.DirectoryVersion {
		return isync.NewDirectoryVersion(f.Path, m.directoryChecksum(f.ID))
	}), nil
}

// FileVersions returns the server versions of the files in the folder at p.
func (m *Memory) FileVersions(p string) ([]*isync.FileVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	folder, ok := m.folders[p]
	if !ok {
		return nil, fmt.Errorf("storage: %w: %s", isync.ErrFolderNotFound, p)
	}

	return lo.Map(m.sortedFiles(folder.ID), func(f *isync.File, _ int) *isync.FileVersion {
		return isync.NewFileVersion(p, f.Name, f.Hash)
	}), nil
}

func (m *Memory) sortedFiles(folderID string) []*isync.File {
	files := slices.Clone(m.files[folderID])
	slices.SortFunc(files, func(a, b *isync.File) int { return strings.Compare(a.Name, b.Name) })

	return files
}

// directoryChecksum is the MD5 over the sorted "name:checksum" lines of the
// folder's files, or EmptyChecksum for a folder without files.
func (m *Memory) directoryChecksum(folderID string) string {
	h := md5.New() //nolint:gosec // see import
	for _, f := range m.sortedFiles(folderID) {
		fmt.Fprintf(h, "%s:%s\n", isync.NormalizeKey(f.Name), strings.ToLower(f.Hash))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("storage: folder path %q is not absolute", p)
	}

	return path.Clean(p), nil
}
