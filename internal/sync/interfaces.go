package sync

import "context"

// --- Consumer-defined interfaces for the collaborators ---
// All calls are synchronous and expected to be fast. Implementations must be
// safe for concurrent use when several passes run in parallel.

// Storage answers folder, file and permission queries.
type Storage interface {
	// GetFolder returns the folder at path, or nil if it does not exist.
	GetFolder(ctx context.Context, path string) (*Folder, error)
	// GetOwnPermission returns the acting user's permission on the folder at path.
	GetOwnPermission(ctx context.Context, path string) (Permission, error)
	// GetFilesInFolder lists the files directly inside a folder.
	GetFilesInFolder(ctx context.Context, folderID string) ([]*File, error)
	// GetSubfolders lists all folders below path, at any depth.
	GetSubfolders(ctx context.Context, path string) ([]*Folder, error)
}

// QuotaReporter is optionally implemented by a Storage.
type QuotaReporter interface {
	GetQuota(ctx context.Context) (*Quota, error)
}

// ChecksumStore drops cached checksums found to be stale.
type ChecksumStore interface {
	RemoveFileChecksum(ctx context.Context, fileID, checksum string) error
	RemoveFileChecksums(ctx context.Context, fileID string) error
	RemoveDirectoryChecksum(ctx context.Context, folderID string) error
}

// ChecksumCache is optionally implemented by a ChecksumStore that keeps the
// checksums derived for the metadata pseudo-files, so a later derivation can
// tell that a cached value went stale.
type ChecksumCache interface {
	FileChecksums(ctx context.Context, fileID string) ([]string, error)
	PutFileChecksum(ctx context.Context, fileID, checksum string) error
}

// UploadOffsetProvider returns the resumable-upload offsets for the given
// versions in folder, one per version, in order. Zero means "start over".
type UploadOffsetProvider interface {
	GetUploadOffsets(ctx context.Context, folder string, versions []*FileVersion) ([]int64, error)
}

// MetadataProvider derives the current checksum of a folder's drive
// metadata pseudo-file from the folder's current state.
type MetadataProvider interface {
	MetadataChecksum(ctx context.Context, folder *Folder) (string, error)
}

// MetadataFileID is the checksum-store id of a folder's metadata pseudo-file.
func MetadataFileID(folderID string) string {
	return "meta:" + folderID
}
