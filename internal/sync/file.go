package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

type (
	fileComparison = ThreeWayComparison[*FileVersion]
	fileResult     = IntermediateSyncResult[*FileVersion]
	fileAction     = Action[*FileVersion]
)

// unknownCreator stands in for the creator of a file the storage does not
// list; only the all-objects tier covers it.
const unknownCreator = -1

// FileSynchronizerConfig wires the collaborators of a file pass. Checksums,
// Uploads and Metadata are optional.
type FileSynchronizerConfig struct {
	Path       string // folder being synchronized
	Storage    Storage
	Checksums  ChecksumStore
	Uploads    UploadOffsetProvider
	Metadata   MetadataProvider
	Filter     *NameFilter
	MaxActions int
}

// FileSynchronizer resolves the file comparisons of one folder. It owns the
// names claimed during the pass, so one instance serves exactly one pass.
type FileSynchronizer struct {
	session    *Session
	mapper     *VersionMapper[*FileVersion]
	path       string
	storage    Storage
	checksums  ChecksumStore
	uploads    UploadOffsetProvider
	metadata   MetadataProvider
	filter     *NameFilter
	maxActions int

	usedNames mapset.Set[string]

	// Lazily loaded, then fixed for the pass.
	folder     *Folder
	perm       *Permission
	files      map[string]*File // by normalized name
	subfolders mapset.Set[string]
}

// NewFileSynchronizer creates the file policy for one pass over cfg.Path.
// A ceiling below MinActionCeiling is raised to it.
func NewFileSynchronizer(session *Session, mapper *VersionMapper[*FileVersion], cfg FileSynchronizerConfig) *FileSynchronizer {
	filter := cfg.Filter
	if filter == nil {
		filter = NewNameFilter(FilterOptions{}, session.Logger())
	}

	return &FileSynchronizer{
		session:    session,
		mapper:     mapper,
		path:       cfg.Path,
		storage:    cfg.Storage,
		checksums:  cfg.Checksums,
		uploads:    cfg.Uploads,
		metadata:   cfg.Metadata,
		filter:     filter,
		maxActions: max(cfg.MaxActions, MinActionCeiling),
		usedNames:  mapset.NewThreadUnsafeSet(mapper.Keys()...),
	}
}

// MaxActions returns the per-pass ceiling of non-trivial actions.
func (s *FileSynchronizer) MaxActions() int {
	return s.maxActions
}

// Sync runs the pass, resolves mapping problems and stamps upload offsets.
func (s *FileSynchronizer) Sync(ctx context.Context) (*IntermediateSyncResult[*FileVersion], error) {
	start := time.Now()
	logger := s.session.Logger().With(slog.String("path", s.path))

	if _, err := s.loadFolder(ctx); err != nil {
		return nil, err
	}

	subfolders, err := s.subfolderNames(ctx)
	if err != nil {
		return nil, err
	}

	s.usedNames.Append(subfolders.ToSlice()...)

	logger.Info("file pass starting",
		slog.Int("comparisons", s.mapper.Len()),
		slog.Int("mapping_problems", s.mapper.Problems().Len()),
	)

	result, err := newSynchronizer(s.session, s.mapper, Policy[*FileVersion](s)).sync(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.resolveProblems(ctx, result); err != nil {
		return nil, err
	}

	if err := s.stampUploadOffsets(ctx, result); err != nil {
		return nil, err
	}

	logger.Info("file pass complete",
		slog.Int("server_actions", len(result.ActionsForServer)),
		slog.Int("client_actions", len(result.ActionsForClient)),
		slog.Int("cost", result.NonTrivialCount()),
		slog.Bool("interrupted", result.Interrupted),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// ProcessServerChange handles a file changed only on the server.
func (s *FileSynchronizer) ProcessServerChange(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	switch c.ServerChange {
	case ChangeDeleted:
		result.AddActionForClient(newAction(ActionRemove, c.Client, nil, c))
		return 1, nil

	case ChangeNew, ChangeModified:
		if present(c.Client) && c.Client.Name != c.Server.Name && equalChecksums(c.Client.Hash, c.Server.Hash) {
			result.AddActionForClient(newAction(ActionEdit, c.Client, c.Server, c))
			return 1, nil
		}

		if _, err := s.download(ctx, result, c, c.Client); err != nil {
			return 0, err
		}

		return 1, nil
	}

	return 0, unexpected("file server change", c)
}

// ProcessClientChange handles a file changed only on the client.
func (s *FileSynchronizer) ProcessClientChange(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	switch c.ClientChange {
	case ChangeDeleted:
		return s.deleteOnServer(ctx, result, c)

	case ChangeNew:
		denied, err := s.checkCreate(ctx, c.Client)
		if err != nil {
			return 0, err
		}

		if denied != nil {
			result.AddActionForClient(newErrorAction(c.Client, nil, c, denied, true))
			return 1, nil
		}

		result.AddActionForClient(newAction(ActionUpload, nil, c.Client, c))

		return 1, nil

	case ChangeModified:
		if s.filter.IsMetadata(c.Client.Name) {
			return s.healMetadata(ctx, result, c)
		}

		if !present(c.Server) {
			result.AddActionForClient(newAction(ActionUpload, nil, c.Client, c))
			return 1, nil
		}

		canWrite, err := s.canWrite(ctx, c.Server)
		if err != nil {
			return 0, err
		}

		if !canWrite {
			s.session.Logger().Warn("file modification denied",
				slog.String("path", c.Server.Path()),
				slog.Int("user_id", s.session.UserID),
			)

			return s.keepBoth(ctx, result, c, CodeNoModifyPermission)
		}

		if c.Client.Name != c.Server.Name {
			renamed := NewFileVersion(c.Server.Folder, c.Client.Name, c.Server.Hash)
			edit := result.AddActionForServer(newAction(ActionEdit, c.Server, renamed, c))

			if equalChecksums(c.Client.Hash, c.Server.Hash) {
				result.AddActionForClient(newAction(ActionAcknowledge, c.Original, c.Client, c).after(edit))
				return 1, nil
			}

			result.AddActionForClient(newAction(ActionUpload, renamed, c.Client, c).after(edit))

			return 2, nil
		}

		result.AddActionForClient(newAction(ActionUpload, c.Server, c.Client, c))

		return 1, nil
	}

	return 0, unexpected("file client change", c)
}

// ProcessConflictingChange handles a file changed on both sides.
func (s *FileSynchronizer) ProcessConflictingChange(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	switch {
	case c.ClientChange == ChangeDeleted && c.ServerChange == ChangeDeleted:
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))
		return 0, nil

	case c.ClientChange == ChangeDeleted && c.ServerChange.changed():
		if _, err := s.download(ctx, result, c, nil); err != nil {
			return 0, err
		}

		return 1, nil

	case c.ClientChange.changed() && c.ServerChange == ChangeDeleted:
		if s.filter.IsMetadata(c.Client.Name) {
			result.AddActionForClient(newAction(ActionRemove, c.Client, nil, c))
			return 1, nil
		}

		perm, err := s.permission(ctx)
		if err != nil {
			return 0, err
		}

		if !perm.CanCreateObjects() {
			result.AddActionForClient(newErrorAction(c.Client, nil, c,
				newSyncError(CodeNoCreatePermission, c.Client.Path(), "not allowed to create files in "+s.path), true))

			return 1, nil
		}

		result.AddActionForClient(newAction(ActionUpload, nil, c.Client, c))

		return 1, nil

	case c.ClientChange.changed() && c.ServerChange.changed():
		return s.resolveBothChanged(ctx, result, c)
	}

	return 0, unexpected("file conflicting change", c)
}

func (s *FileSynchronizer) resolveBothChanged(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	if s.filter.IsMetadata(c.Server.Name) {
		target, err := s.revalidateMetadata(ctx, c.Server)
		if err != nil {
			return 0, err
		}

		if Classify(c.Client, target) == ChangeNone {
			result.AddActionForClient(newAction(ActionAcknowledge, c.Original, target, c))
			return 0, nil
		}

		result.AddActionForClient(newAction(ActionDownload, c.Client, target, c))

		return 1, nil
	}

	switch {
	case Classify(c.Client, c.Server) == ChangeNone:
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, c.Server, c))
		return 0, nil

	case equalChecksums(c.Client.Hash, c.Server.Hash):
		result.AddActionForClient(newAction(ActionEdit, c.Client, c.Server, c))
		return 1, nil

	default:
		s.session.trace("divergent contents, keeping both", slog.String("key", c.Key))
		return s.keepBoth(ctx, result, c, "")
	}
}

// deleteOnServer mirrors a client-side delete, or restores the file when the
// delete tier does not cover it. The metadata pseudo-file is never deleted.
func (s *FileSynchronizer) deleteOnServer(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	if !present(c.Server) {
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))
		return 0, nil
	}

	allowed := false

	if !s.filter.IsMetadata(c.Server.Name) {
		perm, err := s.permission(ctx)
		if err != nil {
			return 0, err
		}

		creator, err := s.creator(ctx, c.Server)
		if err != nil {
			return 0, err
		}

		allowed = perm.CanDelete(creator, s.session.UserID)
	}

	if allowed {
		result.AddActionForServer(newAction(ActionRemove, c.Server, nil, c))
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))

		return 1, nil
	}

	s.session.Logger().Warn("file delete denied",
		slog.String("path", c.Server.Path()),
		slog.Int("user_id", s.session.UserID),
	)

	if _, err := s.download(ctx, result, c, nil); err != nil {
		return 0, err
	}

	result.AddActionForClient(newErrorAction(c.Original, c.Server, c,
		newSyncError(CodeNoDeletePermission, c.Server.Path(), "not allowed to delete file"), false))

	return 2, nil
}

// checkCreate decides whether the client's new file may be uploaded. It
// returns the reason for a refusal, or nil.
func (s *FileSynchronizer) checkCreate(ctx context.Context, v *FileVersion) (*SyncError, error) {
	if r := s.filter.CheckFile(s.path, v.Name); !r.Included {
		return newSyncError(r.Code, v.Path(), r.Reason), nil
	}

	subfolders, err := s.subfolderNames(ctx)
	if err != nil {
		return nil, err
	}

	if subfolders.Contains(NormalizeKey(v.Name)) {
		return newSyncError(CodeConflictingName, v.Path(), "a directory with the same name exists"), nil
	}

	perm, err := s.permission(ctx)
	if err != nil {
		return nil, err
	}

	if !perm.CanCreateObjects() {
		return newSyncError(CodeNoCreatePermission, v.Path(), "not allowed to create files in "+s.path), nil
	}

	return nil, nil
}

// keepBoth frees the server's name on the client by renaming the client's
// copy and downloads the server version under the original name. The
// renamed copy is uploaded, or quarantined when its name is rejected or
// create rights are missing. A non-empty code additionally reports the
// refused original attempt.
func (s *FileSynchronizer) keepBoth(
	ctx context.Context, result *fileResult, c *fileComparison, code ErrorCode,
) (int, error) {
	perm, err := s.permission(ctx)
	if err != nil {
		return 0, err
	}

	renamed := c.Client.Renamed(s.claimAlternativeName(c.Client.Name))
	edit := result.AddActionForClient(newAction(ActionEdit, c.Client, renamed, c))
	cost := 1

	check := s.filter.CheckFile(s.path, renamed.Name)

	switch {
	case !check.Included:
		result.AddActionForClient(newErrorAction(renamed, nil, c,
			newSyncError(check.Code, renamed.Path(), check.Reason), true).after(edit))

	case perm.CanCreateObjects():
		if code != "" {
			result.AddActionForClient(newErrorAction(c.Client, c.Server, c,
				newSyncError(code, c.Server.Path(), "changes saved as "+renamed.Name), false))
			cost++
		}

		result.AddActionForClient(newAction(ActionUpload, nil, renamed, c).after(edit))

	default:
		result.AddActionForClient(newErrorAction(renamed, nil, c,
			newSyncError(CodeNoCreatePermission, renamed.Path(), "not allowed to create files in "+s.path), true).after(edit))
	}

	download, err := s.download(ctx, result, c, nil)
	if err != nil {
		return 0, err
	}

	download.after(edit)

	return cost + 2, nil
}

// claimAlternativeName picks a free name for a renamed copy and reserves it
// for the rest of the pass. A device name that cannot appear in a file name
// is left out of the marker, and the stem is shortened until the name fits
// the length limits.
func (s *FileSynchronizer) claimAlternativeName(name string) string {
	device := s.session.DeviceName
	if err := ValidateDeviceName(device); err != nil {
		s.session.trace("device name not usable in marker", slog.String("error", err.Error()))
		device = ""
	}

	base := name
	alternative := FindAlternativeName(base, s.usedNames, device)

	for s.filter.exceedsLength(s.path, alternative) {
		shorter, ok := shortenStem(base)
		if !ok {
			break
		}

		base = shorter
		alternative = FindAlternativeName(base, s.usedNames, device)
	}

	s.usedNames.Add(NormalizeKey(alternative))
	s.session.trace("renaming copy", slog.String("name", name), slog.String("alternative", alternative))

	return alternative
}

// download appends a DOWNLOAD of the server version. The metadata
// pseudo-file is re-validated first.
func (s *FileSynchronizer) download(
	ctx context.Context, result *fileResult, c *fileComparison, from *FileVersion,
) (*fileAction, error) {
	target := c.Server

	if s.filter.IsMetadata(target.Name) {
		var err error
		if target, err = s.revalidateMetadata(ctx, target); err != nil {
			return nil, err
		}
	}

	return result.AddActionForClient(newAction(ActionDownload, from, target, c)), nil
}

// healMetadata handles a client-side modification of the metadata
// pseudo-file. A client checksum matching the freshly derived one means the
// server's checksum was stale; anything else is refused and re-downloaded.
func (s *FileSynchronizer) healMetadata(ctx context.Context, result *fileResult, c *fileComparison) (int, error) {
	current := c.Server
	if !present(current) {
		current = c.Original
	}

	target, err := s.revalidateMetadata(ctx, current)
	if err != nil {
		return 0, err
	}

	if equalChecksums(target.Hash, c.Client.Hash) {
		s.session.trace("metadata healed", slog.String("path", s.path))
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, target, c))

		return 0, nil
	}

	result.AddActionForClient(newErrorAction(c.Client, target, c,
		newSyncError(CodeNoModifyPermission, target.Path(), "drive metadata is read-only"), false))
	result.AddActionForClient(newAction(ActionDownload, c.Client, target, c))

	return 2, nil
}

// revalidateMetadata re-derives the metadata checksum from the folder's
// current state and returns a fresh version when v's checksum is stale.
func (s *FileSynchronizer) revalidateMetadata(ctx context.Context, v *FileVersion) (*FileVersion, error) {
	if s.metadata == nil {
		return v, nil
	}

	folder, err := s.loadFolder(ctx)
	if err != nil {
		return nil, err
	}

	checksum, err := currentMetadataChecksum(ctx, s.metadata, s.checksums, folder, v.Hash, s.session.Logger())
	if err != nil {
		return nil, err
	}

	if equalChecksums(checksum, v.Hash) {
		return v, nil
	}

	return NewFileVersion(v.Folder, v.Name, checksum), nil
}

// currentMetadataChecksum derives the metadata checksum of folder and
// reconciles it with the checksum store. served is the checksum already
// handed out for the pseudo-file, or "". A served or cached value that
// differs from the derived one is stale: it is purged together with the
// folder's directory checksum, and the derived value is cached instead.
func currentMetadataChecksum(
	ctx context.Context, provider MetadataProvider, store ChecksumStore, folder *Folder, served string, logger *slog.Logger,
) (string, error) {
	checksum, err := provider.MetadataChecksum(ctx, folder)
	if err != nil {
		return "", fmt.Errorf("sync: deriving metadata checksum of %s: %w", folder.Path, err)
	}

	if store == nil {
		return checksum, nil
	}

	metaID := MetadataFileID(folder.ID)
	staleServed := served != "" && !equalChecksums(served, checksum)

	cache, caching := store.(ChecksumCache)

	var cached []string
	if caching {
		if cached, err = cache.FileChecksums(ctx, metaID); err != nil {
			return "", fmt.Errorf("sync: reading cached metadata checksum of %s: %w", folder.Path, err)
		}
	}

	staleCached := lo.SomeBy(cached, func(c string) bool { return !equalChecksums(c, checksum) })

	if staleServed || staleCached {
		logger.Info("stale metadata checksum",
			slog.String("path", folder.Path),
			slog.String("served", served),
			slog.Any("cached", cached),
			slog.String("current", checksum),
		)

		if staleCached {
			err = store.RemoveFileChecksums(ctx, metaID)
		} else {
			err = store.RemoveFileChecksum(ctx, metaID, served)
		}

		if err != nil {
			return "", fmt.Errorf("sync: purging metadata checksums of %s: %w", folder.Path, err)
		}

		if err := store.RemoveDirectoryChecksum(ctx, folder.ID); err != nil {
			return "", fmt.Errorf("sync: purging directory checksum of %s: %w", folder.Path, err)
		}
	}

	if caching && (staleCached || len(cached) == 0) {
		if err := cache.PutFileChecksum(ctx, metaID, checksum); err != nil {
			return "", fmt.Errorf("sync: caching metadata checksum of %s: %w", folder.Path, err)
		}
	}

	return checksum, nil
}

// resolveProblems reports colliding client files as quarantined errors.
// Case conflicts are also renamed and uploaded when create rights allow it.
func (s *FileSynchronizer) resolveProblems(ctx context.Context, result *fileResult) error {
	problems := s.mapper.Problems()
	if problems.Len() == 0 {
		return nil
	}

	perm, err := s.permission(ctx)
	if err != nil {
		return err
	}

	for _, v := range problems.CaseConflicts {
		result.AddActionForClient(newErrorAction(v, nil, nil,
			newSyncError(CodeCaseConflict, v.Path(), "another file differs only in letter case"), true))

		if !perm.CanCreateObjects() {
			continue
		}

		renamed := v.Renamed(s.claimAlternativeName(v.Name))
		if r := s.filter.CheckFile(s.path, renamed.Name); !r.Included {
			continue
		}

		edit := result.AddActionForClient(newAction(ActionEdit, v, renamed, nil))
		result.AddActionForClient(newAction(ActionUpload, nil, renamed, nil).after(edit))
	}

	for _, v := range problems.UnicodeConflicts {
		result.AddActionForClient(newErrorAction(v, nil, nil,
			newSyncError(CodeUnicodeConflict, v.Path(), "another file differs only in Unicode normalization"), true))
	}

	for _, v := range problems.Duplicates {
		result.AddActionForClient(newErrorAction(v, nil, nil,
			newSyncError(CodeDuplicate, v.Path(), "file reported more than once"), true))
	}

	return nil
}

// stampUploadOffsets sets the resumable-upload offset of every UPLOAD in
// the final client list.
func (s *FileSynchronizer) stampUploadOffsets(ctx context.Context, result *fileResult) error {
	uploads := result.ClientActionsOfType(ActionUpload)
	if len(uploads) == 0 || s.uploads == nil {
		return nil
	}

	versions := lo.Map(uploads, func(a *fileAction, _ int) *FileVersion { return a.To })

	offsets, err := s.uploads.GetUploadOffsets(ctx, s.path, versions)
	if err != nil {
		return fmt.Errorf("sync: reading upload offsets for %s: %w", s.path, err)
	}

	if len(offsets) != len(uploads) {
		return fmt.Errorf("sync: got %d upload offsets for %d uploads in %s", len(offsets), len(uploads), s.path)
	}

	for i, a := range uploads {
		a.Offset = offsets[i]
	}

	return nil
}

func (s *FileSynchronizer) loadFolder(ctx context.Context) (*Folder, error) {
	if s.folder != nil {
		return s.folder, nil
	}

	folder, err := s.storage.GetFolder(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("sync: looking up folder %s: %w", s.path, err)
	}

	if folder == nil {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, s.path)
	}

	s.folder = folder

	return folder, nil
}

func (s *FileSynchronizer) permission(ctx context.Context) (Permission, error) {
	if s.perm != nil {
		return *s.perm, nil
	}

	perm, err := s.storage.GetOwnPermission(ctx, s.path)
	if err != nil {
		return Permission{}, fmt.Errorf("sync: reading permission of %s: %w", s.path, err)
	}

	s.perm = &perm

	return perm, nil
}

// canWrite checks the write tier against the creator of the server file.
func (s *FileSynchronizer) canWrite(ctx context.Context, v *FileVersion) (bool, error) {
	perm, err := s.permission(ctx)
	if err != nil {
		return false, err
	}

	creator, err := s.creator(ctx, v)
	if err != nil {
		return false, err
	}

	return perm.CanWrite(creator, s.session.UserID), nil
}

func (s *FileSynchronizer) creator(ctx context.Context, v *FileVersion) (int, error) {
	if s.files == nil {
		folder, err := s.loadFolder(ctx)
		if err != nil {
			return 0, err
		}

		files, err := s.storage.GetFilesInFolder(ctx, folder.ID)
		if err != nil {
			return 0, fmt.Errorf("sync: listing files of %s: %w", s.path, err)
		}

		s.files = lo.KeyBy(files, func(f *File) string { return NormalizeKey(f.Name) })
	}

	if f, ok := s.files[NormalizeKey(v.Name)]; ok {
		return f.CreatedBy, nil
	}

	return unknownCreator, nil
}

// subfolderNames returns the normalized names of the direct subfolders.
func (s *FileSynchronizer) subfolderNames(ctx context.Context) (mapset.Set[string], error) {
	if s.subfolders != nil {
		return s.subfolders, nil
	}

	folders, err := s.storage.GetSubfolders(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("sync: listing subfolders of %s: %w", s.path, err)
	}

	names := mapset.NewThreadUnsafeSet[string]()
	for _, f := range folders {
		if isChild(s.path, f.Path) {
			names.Add(NormalizeKey(f.Name()))
		}
	}

	s.subfolders = names

	return names, nil
}

// isChild reports whether p lies directly below parent.
func isChild(parent, p string) bool {
	prefix := parent
	if prefix != "/" {
		prefix += "/"
	}

	rest, ok := strings.CutPrefix(p, prefix)

	return ok && rest != "" && !strings.Contains(rest, "/")
}

var _ Policy[*FileVersion] = (*FileSynchronizer)(nil)
