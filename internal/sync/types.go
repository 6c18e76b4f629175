// Package sync implements the three-way synchronization engine for drivesync.
// It compares the versions a client reports against the server's current
// versions and the versions remembered from the last completed round, and
// produces the ordered actions that converge both sides without losing content:
// version mapping, change classification, the generic resolution driver, and
// the directory and file resolution policies.
package sync

import (
	"fmt"
	"path"
	"strings"
)

// EmptyChecksum is the checksum reported for a directory without contents
// (the MD5 digest of no data).
const EmptyChecksum = "d41d8cd98f00b204e9800998ecf8427e"

// Version identifies one file or one directory at a point in time. The engine
// works with pointer implementations; a nil version means "absent".
type Version interface {
	comparable
	// Identity is the full path for directories and the name for files.
	Identity() string
	// Checksum is the opaque content digest, compared case-insensitively.
	Checksum() string
}

// FileVersion is a file's name and content checksum, scoped to its parent folder.
type FileVersion struct {
	Folder string // path of the parent folder
	Name   string
	Hash   string
}

// NewFileVersion creates a FileVersion.
func NewFileVersion(folder, name, hash string) *FileVersion {
	return &FileVersion{Folder: folder, Name: name, Hash: hash}
}

// Identity returns the file name.
func (v *FileVersion) Identity() string { return v.Name }

// Checksum returns the file content checksum.
func (v *FileVersion) Checksum() string { return v.Hash }

// Path returns the full path of the file.
func (v *FileVersion) Path() string {
	return path.Join(v.Folder, v.Name)
}

// Renamed returns a copy of the version under a different name.
func (v *FileVersion) Renamed(name string) *FileVersion {
	return &FileVersion{Folder: v.Folder, Name: name, Hash: v.Hash}
}

func (v *FileVersion) String() string {
	if v == nil {
		return "<none>"
	}

	return fmt.Sprintf("%s [%s]", v.Name, v.Hash)
}

// DirectoryVersion is a directory's full path and the checksum aggregating its
// direct contents.
type DirectoryVersion struct {
	Path string
	Hash string
}

// NewDirectoryVersion creates a DirectoryVersion.
func NewDirectoryVersion(dirPath, hash string) *DirectoryVersion {
	return &DirectoryVersion{Path: dirPath, Hash: hash}
}

// Identity returns the directory path.
func (v *DirectoryVersion) Identity() string { return v.Path }

// Checksum returns the directory checksum.
func (v *DirectoryVersion) Checksum() string { return v.Hash }

// Name returns the last path segment.
func (v *DirectoryVersion) Name() string {
	return path.Base(v.Path)
}

// IsEmpty reports whether the directory has no direct contents.
func (v *DirectoryVersion) IsEmpty() bool {
	return strings.EqualFold(v.Hash, EmptyChecksum)
}

func (v *DirectoryVersion) String() string {
	if v == nil {
		return "<none>"
	}

	return fmt.Sprintf("%s [%s]", v.Path, v.Hash)
}

// present reports whether v is set.
func present[V Version](v V) bool {
	var absent V
	return v != absent
}

// --- Storage model ---

// FolderLevel is the folder-level permission of the acting user.
type FolderLevel int

// Folder permission levels, ordered.
const (
	FolderNone             FolderLevel = 0
	FolderVisible          FolderLevel = 1
	FolderCreateObjects    FolderLevel = 2
	FolderCreateSubfolders FolderLevel = 4
	FolderMaximum          FolderLevel = 128
)

// ObjectLevel is the object-level (read/write/delete) permission tier.
type ObjectLevel int

// Object permission tiers, ordered.
const (
	ObjectNone    ObjectLevel = 0
	ObjectOwn     ObjectLevel = 2
	ObjectAll     ObjectLevel = 4
	ObjectMaximum ObjectLevel = 128
)

// Permission is the acting user's own permission on a folder.
type Permission struct {
	Folder FolderLevel
	Read   ObjectLevel
	Write  ObjectLevel
	Delete ObjectLevel
	Admin  bool
}

// CanCreateObjects reports whether files may be created in the folder.
func (p Permission) CanCreateObjects() bool {
	return p.Folder >= FolderCreateObjects
}

// CanCreateSubfolders reports whether subfolders may be created in the folder.
func (p Permission) CanCreateSubfolders() bool {
	return p.Folder >= FolderCreateSubfolders
}

// CanWrite reports whether a file created by createdBy may be modified by userID.
func (p Permission) CanWrite(createdBy, userID int) bool {
	return permits(p.Write, createdBy, userID)
}

// CanDelete reports whether a file created by createdBy may be deleted by userID.
func (p Permission) CanDelete(createdBy, userID int) bool {
	return permits(p.Delete, createdBy, userID)
}

func permits(level ObjectLevel, createdBy, userID int) bool {
	switch {
	case level >= ObjectAll:
		return true
	case level >= ObjectOwn:
		return createdBy == userID
	default:
		return false
	}
}

// Folder is a folder in the storage backend.
type Folder struct {
	ID   string
	Path string
}

// Name returns the folder's last path segment.
func (f *Folder) Name() string {
	return path.Base(f.Path)
}

// File is a file in the storage backend.
type File struct {
	ID        string
	FolderID  string
	Name      string
	Hash      string
	Size      int64
	CreatedBy int
}

// Quota reports storage usage in bytes. A negative Limit means unlimited.
type Quota struct {
	Limit int64
	Use   int64
}
