package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Snapshot is the JSON description of a backend's contents.
type Snapshot struct {
	Quota   *quotaRecord     `json:"quota,omitempty"`
	Folders []folderSnapshot `json:"folders"`
}

type quotaRecord struct {
	Limit int64 `json:"limit"`
	Use   int64 `json:"use"`
}

type folderSnapshot struct {
	ID         string           `json:"id,omitempty"`
	Path       string           `json:"path"`
	Permission permissionRecord `json:"permission"`
	Files      []fileSnapshot   `json:"files,omitempty"`
}

type fileSnapshot struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size,omitempty"`
	CreatedBy int    `json:"created_by"`
}

// permissionRecord is the JSON form of a Permission.
type permissionRecord struct {
	Folder int  `json:"folder"`
	Read   int  `json:"read"`
	Write  int  `json:"write"`
	Delete int  `json:"delete"`
	Admin  bool `json:"admin,omitempty"`
}

func toPermissionRecord(p isync.Permission) permissionRecord {
	return permissionRecord{
		Folder: int(p.Folder),
		Read:   int(p.Read),
		Write:  int(p.Write),
		Delete: int(p.Delete),
		Admin:  p.Admin,
	}
}

func (r permissionRecord) permission() isync.Permission {
	return isync.Permission{
		Folder: isync.FolderLevel(r.Folder),
		Read:   isync.ObjectLevel(r.Read),
		Write:  isync.ObjectLevel(r.Write),
		Delete: isync.ObjectLevel(r.Delete),
		Admin:  r.Admin,
	}
}

// LoadSnapshot decodes a JSON snapshot into a new backend. The root folder
// must be listed; folders are created parents first regardless of order.
func LoadSnapshot(r io.Reader) (*Memory, error) {
	var snap Snapshot

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("storage: decoding snapshot: %w", err)
	}

	return FromSnapshot(&snap)
}

// LoadSnapshotFile reads a JSON snapshot from disk.
func LoadSnapshotFile(p string) (*Memory, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("storage: opening snapshot: %w", err)
	}
	defer f.Close()

	return LoadSnapshot(f)
}

// FromSnapshot builds a backend from a decoded snapshot.
func FromSnapshot(snap *Snapshot) (*Memory, error) {
	var root *folderSnapshot

	for i := range snap.Folders {
		if snap.Folders[i].Path == "/" {
			root = &snap.Folders[i]
		}
	}

	if root == nil {
		return nil, errors.New("storage: snapshot has no root folder")
	}

	m := NewMemory(root.Permission.permission())
	if root.ID != "" {
		m.folders["/"].ID = root.ID
	}

	folders := make([]folderSnapshot, len(snap.Folders))
	for i, fs := range snap.Folders {
		p, err := cleanPath(fs.Path)
		if err != nil {
			return nil, err
		}

		fs.Path = p
		folders[i] = fs
	}

	// Parents sort before their children.
	slices.SortStableFunc(folders, func(a, b folderSnapshot) int { return strings.Compare(a.Path, b.Path) })

	for i, fs := range folders {
		if i > 0 && folders[i-1].Path == fs.Path {
			return nil, fmt.Errorf("storage: folder %s listed twice", fs.Path)
		}

		m.addFolder(fs.Path, fs.Permission.permission(), fs.ID)
	}

	for _, fs := range folders {
		for _, f := range fs.Files {
			if _, err := m.AddFile(fs.Path, isync.File{
				ID:        f.ID,
				Name:      f.Name,
				Hash:      f.Hash,
				Size:      f.Size,
				CreatedBy: f.CreatedBy,
			}); err != nil {
				return nil, err
			}
		}
	}

	if snap.Quota != nil {
		m.quota = &isync.Quota{Limit: snap.Quota.Limit, Use: snap.Quota.Use}
	}

	return m, nil
}
