package sync

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type (
	dirComparison = ThreeWayComparison[*DirectoryVersion]
	dirResult     = IntermediateSyncResult[*DirectoryVersion]
)

// DirectorySynchronizer resolves directory comparisons for a whole path
// tree. One instance serves exactly one pass; its lookup caches are
// discarded with it.
type DirectorySynchronizer struct {
	session    *Session
	mapper     *VersionMapper[*DirectoryVersion]
	storage    Storage
	filter     *NameFilter
	maxActions int

	folders     map[string]*Folder // by path, nil for "does not exist"
	permissions map[string]Permission
	fileNames   map[string]mapset.Set[string] // normalized file names by folder ID
}

// NewDirectorySynchronizer creates the directory policy for one pass. A
// ceiling below MinActionCeiling is raised to it.
func NewDirectorySynchronizer(
	session *Session, mapper *VersionMapper[*DirectoryVersion], storage Storage, filter *NameFilter, maxActions int,
) *DirectorySynchronizer {
	if filter == nil {
		filter = NewNameFilter(FilterOptions{}, session.Logger())
	}

	return &DirectorySynchronizer{
		session:     session,
		mapper:      mapper,
		storage:     storage,
		filter:      filter,
		maxActions:  max(maxActions, MinActionCeiling),
		folders:     make(map[string]*Folder),
		permissions: make(map[string]Permission),
		fileNames:   make(map[string]mapset.Set[string]),
	}
}

// MaxActions returns the per-pass ceiling of non-trivial actions.
func (s *DirectorySynchronizer) MaxActions() int {
	return s.maxActions
}

// Sync runs the pass and then reports the client's mapping problems.
func (s *DirectorySynchronizer) Sync(ctx context.Context) (*IntermediateSyncResult[*DirectoryVersion], error) {
	start := time.Now()
	logger := s.session.Logger()

	logger.Info("directory pass starting",
		slog.Int("comparisons", s.mapper.Len()),
		slog.Int("mapping_problems", s.mapper.Problems().Len()),
	)

	result, err := newSynchronizer(s.session, s.mapper, Policy[*DirectoryVersion](s)).sync(ctx)
	if err != nil {
		return nil, err
	}

	s.reportProblems(result)

	logger.Info("directory pass complete",
		slog.Int("server_actions", len(result.ActionsForServer)),
		slog.Int("client_actions", len(result.ActionsForClient)),
		slog.Int("cost", result.NonTrivialCount()),
		slog.Bool("interrupted", result.Interrupted),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// ProcessServerChange handles a directory changed only on the server.
func (s *DirectorySynchronizer) ProcessServerChange(
	_ context.Context, result *dirResult, c *dirComparison,
) (int, error) {
	switch c.ServerChange {
	case ChangeDeleted:
		for key, d := range s.mapper.Descendants(c.Key) {
			if d.ClientChange != ChangeNone && d.ClientChange != ChangeDeleted {
				s.session.trace("keeping deleted directory, client changes a descendant",
					slog.String("key", c.Key),
					slog.String("descendant", key),
				)
				return 0, nil
			}
		}

		result.AddActionForClient(newAction(ActionRemove, c.Client, nil, c))

		return 1, nil

	case ChangeNew, ChangeModified:
		if c.ServerChange == ChangeModified && present(c.Client) && c.Client.Path != c.Server.Path {
			result.AddActionForClient(newAction(ActionEdit, c.Client, c.Server, c))

			if equalChecksums(c.Client.Hash, c.Server.Hash) {
				return 1, nil
			}

			result.AddActionForClient(newAction(ActionSync, c.Client, c.Server, c))

			return 2, nil
		}

		result.AddActionForClient(newAction(ActionSync, c.Client, c.Server, c))

		return 1, nil
	}

	return 0, unexpected("directory server change", c)
}

// ProcessClientChange handles a directory changed only on the client.
func (s *DirectorySynchronizer) ProcessClientChange(
	ctx context.Context, result *dirResult, c *dirComparison,
) (int, error) {
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

		result.AddActionForServer(newAction(ActionEdit, nil, c.Client, c))
		result.AddActionForClient(newAction(ActionSync, c.Client, c.Client, c))

		return 2, nil

	case ChangeModified:
		cost := 0

		if present(c.Server) && c.Server.Path != c.Client.Path {
			result.AddActionForServer(newAction(ActionEdit, c.Server, c.Client, c))
			cost++
		}

		if present(c.Server) && !equalChecksums(c.Client.Hash, c.Server.Hash) {
			result.AddActionForClient(newAction(ActionSync, c.Client, c.Client, c))
			return cost + 1, nil
		}

		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, c.Client, c))

		return cost, nil
	}

	return 0, unexpected("directory client change", c)
}

// ProcessConflictingChange handles a directory changed on both sides.
func (s *DirectorySynchronizer) ProcessConflictingChange(
	ctx context.Context, result *dirResult, c *dirComparison,
) (int, error) {
	switch {
	case c.ClientChange == ChangeDeleted && c.ServerChange == ChangeDeleted:
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))
		return 0, nil

	case c.ClientChange == ChangeDeleted && c.ServerChange.changed():
		result.AddActionForClient(newAction(ActionSync, nil, c.Server, c))
		return 1, nil

	case c.ClientChange.changed() && c.ServerChange == ChangeDeleted:
		denied, err := s.checkCreate(ctx, c.Client)
		if err != nil {
			return 0, err
		}

		if denied != nil {
			result.AddActionForClient(newErrorAction(c.Client, nil, c, denied, true))
			return 1, nil
		}

		result.AddActionForServer(newAction(ActionEdit, nil, c.Client, c))
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, c.Client, c))

		return 1, nil

	case c.ClientChange.changed() && c.ServerChange.changed():
		return s.resolveBothChanged(result, c), nil
	}

	return 0, unexpected("directory conflicting change", c)
}

func (s *DirectorySynchronizer) resolveBothChanged(result *dirResult, c *dirComparison) int {
	// The client has never seen the contents of a directory it created in
	// parallel with the server, so an equal checksum alone does not suffice.
	firstSync := !present(c.Original) && !c.Server.IsEmpty()

	switch {
	case Classify(c.Client, c.Server) == ChangeNone:
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, c.Server, c))

		if firstSync {
			s.session.trace("first sync of non-empty directory", slog.String("path", c.Server.Path))
			result.AddActionForClient(newAction(ActionSync, c.Client, c.Server, c))

			return 1
		}

		return 0

	case c.Client.Path != c.Server.Path:
		result.AddActionForClient(newAction(ActionEdit, c.Client, c.Server, c))

		if !equalChecksums(c.Client.Hash, c.Server.Hash) || firstSync {
			result.AddActionForClient(newAction(ActionSync, c.Client, c.Server, c))
			return 2
		}

		return 1

	default:
		result.AddActionForClient(newAction(ActionSync, c.Client, c.Server, c))
		return 1
	}
}

// deleteOnServer mirrors a client-side delete, or re-asserts the server
// version when the user may not delete the whole subtree.
func (s *DirectorySynchronizer) deleteOnServer(ctx context.Context, result *dirResult, c *dirComparison) (int, error) {
	if !present(c.Server) {
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))
		return 0, nil
	}

	allowed, err := s.mayDelete(ctx, c.Server)
	if err != nil {
		return 0, err
	}

	if allowed {
		result.AddActionForServer(newAction(ActionRemove, c.Server, nil, c))
		result.AddActionForClient(newAction(ActionAcknowledge, c.Original, nil, c))

		return 1, nil
	}

	s.session.Logger().Warn("directory delete denied",
		slog.String("path", c.Server.Path),
		slog.Int("user_id", s.session.UserID),
	)

	result.AddActionForClient(newAction(ActionSync, nil, c.Server, c))
	result.AddActionForClient(newErrorAction(c.Original, c.Server, c,
		newSyncError(CodeNoDeletePermission, c.Server.Path, "not allowed to delete directory contents"), false))

	return 2, nil
}

// mayDelete checks admin rights on the directory and every subfolder, and
// delete rights on every file they contain, deepest folders first.
func (s *DirectorySynchronizer) mayDelete(ctx context.Context, dir *DirectoryVersion) (bool, error) {
	root, err := s.folder(ctx, dir.Path)
	if err != nil {
		return false, err
	}

	if root == nil {
		return true, nil
	}

	subfolders, err := s.storage.GetSubfolders(ctx, dir.Path)
	if err != nil {
		return false, fmt.Errorf("sync: listing subfolders of %s: %w", dir.Path, err)
	}

	slices.SortFunc(subfolders, func(a, b *Folder) int {
		if d := cmp.Compare(depth(b.Path), depth(a.Path)); d != 0 {
			return d
		}

		return strings.Compare(a.Path, b.Path)
	})

	for _, f := range append(subfolders, root) {
		ok, err := s.mayDeleteFolder(ctx, f, s.isEmpty(f, dir))
		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func (s *DirectorySynchronizer) mayDeleteFolder(ctx context.Context, f *Folder, empty bool) (bool, error) {
	perm, err := s.permission(ctx, f.Path)
	if err != nil {
		return false, err
	}

	if !perm.Admin {
		s.session.trace("no admin rights", slog.String("path", f.Path))
		return false, nil
	}

	if empty {
		return true, nil
	}

	files, err := s.storage.GetFilesInFolder(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("sync: listing files of %s: %w", f.Path, err)
	}

	for _, file := range files {
		if !perm.CanDelete(file.CreatedBy, s.session.UserID) {
			s.session.trace("may not delete file", slog.String("path", f.Path), slog.String("name", file.Name))
			return false, nil
		}
	}

	return true, nil
}

// isEmpty reports whether the server checksum of f is the empty checksum.
func (s *DirectorySynchronizer) isEmpty(f *Folder, deleted *DirectoryVersion) bool {
	if f.Path == deleted.Path {
		return deleted.IsEmpty()
	}

	c := s.mapper.Get(NormalizeKey(f.Path))

	return c != nil && present(c.Server) && c.Server.IsEmpty()
}

// checkCreate decides whether the client's new directory may be created on
// the server. It returns the reason for a refusal, or nil.
func (s *DirectorySynchronizer) checkCreate(ctx context.Context, dir *DirectoryVersion) (*SyncError, error) {
	if r := s.filter.CheckDirectory(dir.Path); !r.Included {
		return newSyncError(r.Code, dir.Path, r.Reason), nil
	}

	if dir.Path == "/" {
		return nil, nil
	}

	ancestor, err := s.knownAncestor(ctx, dir.Path)
	if err != nil {
		return nil, err
	}

	perm, err := s.permission(ctx, ancestor.Path)
	if err != nil {
		return nil, err
	}

	if !perm.CanCreateSubfolders() {
		s.session.Logger().Warn("directory create denied",
			slog.String("path", dir.Path),
			slog.String("parent", ancestor.Path),
		)

		return newSyncError(CodeNoCreatePermission, dir.Path, "not allowed to create subfolders in "+ancestor.Path), nil
	}

	rel := strings.TrimPrefix(dir.Path, strings.TrimSuffix(ancestor.Path, "/")+"/")
	segment, _, _ := strings.Cut(rel, "/")

	names, err := s.filesIn(ctx, ancestor)
	if err != nil {
		return nil, err
	}

	if names.Contains(NormalizeKey(segment)) {
		return newSyncError(CodeConflictingName, dir.Path, "a file with the same name exists in "+ancestor.Path), nil
	}

	return nil, nil
}

// knownAncestor walks up from the parent of p to the deepest folder the
// server already has.
func (s *DirectorySynchronizer) knownAncestor(ctx context.Context, p string) (*Folder, error) {
	for parent := path.Dir(p); ; parent = path.Dir(parent) {
		f, err := s.folder(ctx, parent)
		if err != nil {
			return nil, err
		}

		if f != nil {
			return f, nil
		}

		if parent == "/" {
			return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, parent)
		}
	}
}

func (s *DirectorySynchronizer) folder(ctx context.Context, p string) (*Folder, error) {
	if f, ok := s.folders[p]; ok {
		return f, nil
	}

	f, err := s.storage.GetFolder(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("sync: looking up folder %s: %w", p, err)
	}

	s.folders[p] = f

	return f, nil
}

func (s *DirectorySynchronizer) permission(ctx context.Context, p string) (Permission, error) {
	if perm, ok := s.permissions[p]; ok {
		return perm, nil
	}

	perm, err := s.storage.GetOwnPermission(ctx, p)
	if err != nil {
		return Permission{}, fmt.Errorf("sync: reading permission of %s: %w", p, err)
	}

	s.permissions[p] = perm

	return perm, nil
}

func (s *DirectorySynchronizer) filesIn(ctx context.Context, f *Folder) (mapset.Set[string], error) {
	if names, ok := s.fileNames[f.ID]; ok {
		return names, nil
	}

	files, err := s.storage.GetFilesInFolder(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("sync: listing files of %s: %w", f.Path, err)
	}

	names := mapset.NewThreadUnsafeSet[string]()
	for _, file := range files {
		names.Add(NormalizeKey(file.Name))
	}

	s.fileNames[f.ID] = names

	return names, nil
}

// reportProblems turns colliding client directories into quarantined errors.
// Directories are never renamed automatically.
func (s *DirectorySynchronizer) reportProblems(result *dirResult) {
	problems := s.mapper.Problems()

	report := func(versions []*DirectoryVersion, code ErrorCode, reason string) {
		for _, v := range versions {
			s.session.trace("mapping problem", slog.String("code", string(code)), slog.String("path", v.Path))
			result.AddActionForClient(newErrorAction(v, nil, nil, newSyncError(code, v.Path, reason), true))
		}
	}

	report(problems.CaseConflicts, CodeCaseConflict, "another directory differs only in letter case")
	report(problems.UnicodeConflicts, CodeUnicodeConflict, "another directory differs only in Unicode normalization")
	report(problems.Duplicates, CodeDuplicate, "directory reported more than once")
}

func depth(p string) int {
	return strings.Count(strings.Trim(p, "/"), "/")
}

var _ Policy[*DirectoryVersion] = (*DirectorySynchronizer)(nil)
