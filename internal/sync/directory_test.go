package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allChanges = []Change{ChangeNone, ChangeNew, ChangeModified, ChangeDeleted}

func dv(p, hash string) *DirectoryVersion {
	return NewDirectoryVersion(p, hash)
}

func newTestDirectorySync(
	t *testing.T, storage *fakeStorage, originals, clients, servers []*DirectoryVersion,
) *DirectorySynchronizer {
	t.Helper()

	return NewDirectorySynchronizer(newTestSession(t), NewVersionMapper(originals, clients, servers),
		storage, newTestFilter(t), DefaultMaxDirectoryActions)
}

func runDirectorySync(t *testing.T, s *DirectorySynchronizer) *dirResult {
	t.Helper()

	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	return result
}

func actionTypes[V Version](actions []*Action[V]) []ActionType {
	out := make([]ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}

	return out
}

// pairComparison builds a comparison carrying the given change pair, with
// versions shaped like the changes would produce them.
func pairComparison[V Version](key string, client, server Change, version func(hash string) V) *ThreeWayComparison[V] {
	var original V
	if client != ChangeNew && server != ChangeNew {
		original = version("o")
	}

	side := func(ch Change, hash string) V {
		switch ch {
		case ChangeNone:
			return original
		case ChangeDeleted:
			var absent V
			return absent
		default:
			return version(hash)
		}
	}

	return &ThreeWayComparison[V]{
		Key:          key,
		Original:     original,
		Client:       side(client, "c"),
		Server:       side(server, "s"),
		ClientChange: client,
		ServerChange: server,
	}
}

func TestDirectorySynchronizer_Totality(t *testing.T) {
	t.Parallel()

	for _, client := range allChanges {
		for _, server := range allChanges {
			t.Run(fmt.Sprintf("%s/%s", client, server), func(t *testing.T) {
				t.Parallel()

				storage := newFakeStorage()
				storage.addFolder("/docs", allPermissions)

				s := newTestDirectorySync(t, storage, nil, nil, nil)
				c := pairComparison("/docs", client, server, func(h string) *DirectoryVersion { return dv("/docs", h) })

				cost, result, err := dispatch(t, s.session, Policy[*DirectoryVersion](s), c)
				require.NoError(t, err)
				assert.Equal(t, result.NonTrivialCount(), cost)

				if client == ChangeNone && server == ChangeNone {
					assert.True(t, result.IsEmpty())
				} else {
					assert.False(t, result.IsEmpty())
				}
			})
		}
	}
}

func TestDirectorySynchronizer_UnknownChangeIsFatal(t *testing.T) {
	t.Parallel()

	s := newTestDirectorySync(t, newFakeStorage(), nil, nil, nil)
	bogus := Change(9)

	for _, pair := range [][2]Change{{bogus, ChangeNone}, {ChangeNone, bogus}, {bogus, bogus}, {ChangeDeleted, bogus}} {
		c := &dirComparison{Key: "/x", ClientChange: pair[0], ServerChange: pair[1], Client: dv("/x", "1"), Server: dv("/x", "2")}

		_, _, err := dispatch(t, s.session, Policy[*DirectoryVersion](s), c)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnexpectedChange)

		var unexpectedErr *UnexpectedChangeError
		require.ErrorAs(t, err, &unexpectedErr)
		assert.Equal(t, "/x", unexpectedErr.Key)
	}
}

func TestDirectorySynchronizer_DeleteDeniedWithoutAdmin(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.addFolder("/docs", Permission{Folder: FolderCreateSubfolders, Write: ObjectAll, Delete: ObjectAll})

	original := []*DirectoryVersion{dv("/docs", "h")}
	s := newTestDirectorySync(t, storage, original, nil, original)

	result := runDirectorySync(t, s)

	assert.Empty(t, result.ActionsForServer)
	require.Equal(t, []ActionType{ActionSync, ActionError}, actionTypes(result.ActionsForClient))
	assert.Equal(t, 2, result.NonTrivialCount())

	errAction := result.ActionsForClient[1]
	assert.False(t, errAction.Quarantine)
	assert.Equal(t, CodeNoDeletePermission, errAction.Err.Code)
}

func TestDirectorySynchronizer_DeleteChecksSubtree(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		subDelete ObjectLevel
		subAdmin  bool
		allowed   bool
	}{
		{"all objects", ObjectAll, true, true},
		{"own objects of another user", ObjectOwn, true, false},
		{"no admin on subfolder", ObjectAll, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			storage := newFakeStorage()
			storage.addFolder("/docs", allPermissions)
			storage.addFolder("/docs/deep", Permission{Folder: FolderMaximum, Delete: tt.subDelete, Admin: tt.subAdmin})
			storage.addFile("/docs/deep", "other.txt", "x", testUserID+1)

			original := []*DirectoryVersion{dv("/docs", "h"), dv("/docs/deep", "d")}
			s := newTestDirectorySync(t, storage, original, original[1:], original)

			result := runDirectorySync(t, s)

			if tt.allowed {
				require.Equal(t, []ActionType{ActionRemove}, actionTypes(result.ActionsForServer))
				assert.Equal(t, []ActionType{ActionAcknowledge}, actionTypes(result.ActionsForClient))

				return
			}

			assert.Empty(t, result.ActionsForServer)
			assert.Equal(t, []ActionType{ActionSync, ActionError}, actionTypes(result.ActionsForClient))
		})
	}
}

func TestDirectorySynchronizer_DeleteEmptyDirectorySkipsFileCheck(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.addFolder("/empty", Permission{Folder: FolderMaximum, Admin: true})
	storage.addFile("/empty", "locked.txt", "x", testUserID+1)

	original := []*DirectoryVersion{dv("/empty", EmptyChecksum)}
	s := newTestDirectorySync(t, storage, original, nil, original)

	result := runDirectorySync(t, s)

	assert.Equal(t, []ActionType{ActionRemove}, actionTypes(result.ActionsForServer))
	assert.Equal(t, 1, result.NonTrivialCount())
}

func TestDirectorySynchronizer_ServerDeleteKeepsActiveSubtree(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()

	originals := []*DirectoryVersion{dv("/a", "1"), dv("/a/b", "1")}
	clients := []*DirectoryVersion{dv("/a", "1"), dv("/a/b", "2"), dv("/a/c", "1")}

	s := newTestDirectorySync(t, storage, originals, clients, nil)
	result := runDirectorySync(t, s)

	for _, a := range result.ActionsForClient {
		assert.NotEqual(t, ActionRemove, a.Type, "unexpected remove of %s", a.Comparison.Key)
	}

	require.Len(t, result.ActionsForServer, 2)
	assert.Equal(t, "/a/b", result.ActionsForServer[0].To.Path)
	assert.Nil(t, result.ActionsForServer[0].From)
	assert.Equal(t, "/a/c", result.ActionsForServer[1].To.Path)
}

func TestDirectorySynchronizer_ServerDeleteRemovesIdleSubtree(t *testing.T) {
	t.Parallel()

	originals := []*DirectoryVersion{dv("/a", "1"), dv("/a/b", "1")}

	s := newTestDirectorySync(t, newFakeStorage(), originals, originals, nil)
	result := runDirectorySync(t, s)

	assert.Equal(t, []ActionType{ActionRemove, ActionRemove}, actionTypes(result.ActionsForClient))
	assert.Empty(t, result.ActionsForServer)
}

func TestDirectorySynchronizer_NewDirectory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		code ErrorCode
	}{
		{"created", "/docs/new", ""},
		{"created below unknown parents", "/docs/x/y/z", ""},
		{"invalid name", "/docs/bad:name", CodeInvalidName},
		{"no create permission", "/readonly/new", CodeNoCreatePermission},
		{"file occupies name", "/docs/Report/inner", CodeConflictingName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			storage := newFakeStorage()
			storage.addFolder("/docs", allPermissions)
			storage.addFolder("/readonly", Permission{Folder: FolderCreateObjects})
			storage.addFile("/docs", "report", "x", testUserID)

			s := newTestDirectorySync(t, storage, nil, []*DirectoryVersion{dv(tt.path, "n")}, nil)
			result := runDirectorySync(t, s)

			if tt.code == "" {
				require.Equal(t, []ActionType{ActionEdit}, actionTypes(result.ActionsForServer))
				assert.Nil(t, result.ActionsForServer[0].From)
				assert.Equal(t, []ActionType{ActionSync}, actionTypes(result.ActionsForClient))
				assert.Equal(t, 2, result.NonTrivialCount())

				return
			}

			assert.Empty(t, result.ActionsForServer)
			require.Equal(t, []ActionType{ActionError}, actionTypes(result.ActionsForClient))
			assert.True(t, result.ActionsForClient[0].Quarantine)
			assert.Equal(t, tt.code, result.ActionsForClient[0].Err.Code)
		})
	}
}

func TestDirectorySynchronizer_ServerCaseRename(t *testing.T) {
	t.Parallel()

	original := []*DirectoryVersion{dv("/Docs", "h")}

	s := newTestDirectorySync(t, newFakeStorage(), original, original, []*DirectoryVersion{dv("/docs", "h")})
	result := runDirectorySync(t, s)
	assert.Equal(t, []ActionType{ActionEdit}, actionTypes(result.ActionsForClient))
	assert.Equal(t, "/docs", result.ActionsForClient[0].To.Path)

	s = newTestDirectorySync(t, newFakeStorage(), original, original, []*DirectoryVersion{dv("/docs", "h2")})
	result = runDirectorySync(t, s)
	assert.Equal(t, []ActionType{ActionEdit, ActionSync}, actionTypes(result.ActionsForClient))
}

func TestDirectorySynchronizer_ClientCaseRename(t *testing.T) {
	t.Parallel()

	original := []*DirectoryVersion{dv("/docs", "h")}

	s := newTestDirectorySync(t, newFakeStorage(), original, []*DirectoryVersion{dv("/Docs", "h")}, original)
	result := runDirectorySync(t, s)

	require.Equal(t, []ActionType{ActionEdit}, actionTypes(result.ActionsForServer))
	assert.Equal(t, "/docs", result.ActionsForServer[0].From.Path)
	assert.Equal(t, "/Docs", result.ActionsForServer[0].To.Path)
	assert.Equal(t, []ActionType{ActionAcknowledge}, actionTypes(result.ActionsForClient))
	assert.Equal(t, 1, result.NonTrivialCount())
}

func TestDirectorySynchronizer_ClientContentChange(t *testing.T) {
	t.Parallel()

	original := []*DirectoryVersion{dv("/docs", "h")}

	s := newTestDirectorySync(t, newFakeStorage(), original, []*DirectoryVersion{dv("/docs", "h2")}, original)
	result := runDirectorySync(t, s)

	assert.Empty(t, result.ActionsForServer)
	assert.Equal(t, []ActionType{ActionSync}, actionTypes(result.ActionsForClient))
}

func TestDirectorySynchronizer_BothChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		original []*DirectoryVersion
		client   string
		server   string
		hash     string
		want     []ActionType
	}{
		{"first sync of non-empty", nil, "/docs", "/docs", "h", []ActionType{ActionAcknowledge, ActionSync}},
		{"first sync of empty", nil, "/docs", "/docs", EmptyChecksum, []ActionType{ActionAcknowledge}},
		{"converged", []*DirectoryVersion{dv("/docs", "o")}, "/docs", "/docs", "h", []ActionType{ActionAcknowledge}},
		{"case differs", []*DirectoryVersion{dv("/docs", "o")}, "/Docs", "/DOCS", "h", []ActionType{ActionEdit}},
		{"case differs on first sync", nil, "/Docs", "/DOCS", "h", []ActionType{ActionEdit, ActionSync}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestDirectorySync(t, newFakeStorage(), tt.original,
				[]*DirectoryVersion{dv(tt.client, tt.hash)}, []*DirectoryVersion{dv(tt.server, tt.hash)})
			result := runDirectorySync(t, s)

			assert.Empty(t, result.ActionsForServer)
			assert.Equal(t, tt.want, actionTypes(result.ActionsForClient))
		})
	}
}

func TestDirectorySynchronizer_DivergentContentServerWins(t *testing.T) {
	t.Parallel()

	original := []*DirectoryVersion{dv("/docs", "o")}

	s := newTestDirectorySync(t, newFakeStorage(), original,
		[]*DirectoryVersion{dv("/docs", "c")}, []*DirectoryVersion{dv("/docs", "s")})
	result := runDirectorySync(t, s)

	require.Equal(t, []ActionType{ActionSync}, actionTypes(result.ActionsForClient))
	assert.Equal(t, "s", result.ActionsForClient[0].To.Hash)
}

func TestDirectorySynchronizer_BothDeleted(t *testing.T) {
	t.Parallel()

	s := newTestDirectorySync(t, newFakeStorage(), []*DirectoryVersion{dv("/gone", "h")}, nil, nil)
	result := runDirectorySync(t, s)

	assert.Empty(t, result.ActionsForServer)
	assert.Equal(t, []ActionType{ActionAcknowledge}, actionTypes(result.ActionsForClient))
	assert.Zero(t, result.NonTrivialCount())
}

func TestDirectorySynchronizer_RecreateDeletedOnServer(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	original := []*DirectoryVersion{dv("/docs", "o")}

	s := newTestDirectorySync(t, storage, original, []*DirectoryVersion{dv("/docs", "c")}, nil)
	result := runDirectorySync(t, s)

	assert.Equal(t, []ActionType{ActionEdit}, actionTypes(result.ActionsForServer))
	assert.Equal(t, []ActionType{ActionAcknowledge}, actionTypes(result.ActionsForClient))
	assert.Equal(t, 1, result.NonTrivialCount())
}

func TestDirectorySynchronizer_MappingProblems(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	clients := []*DirectoryVersion{dv("/Photos", EmptyChecksum), dv("/photos", EmptyChecksum), dv("/Photos", EmptyChecksum)}

	s := newTestDirectorySync(t, storage, nil, clients, nil)
	result := runDirectorySync(t, s)

	errs := result.ClientActionsOfType(ActionError)
	require.Len(t, errs, 2)

	codes := []ErrorCode{errs[0].Err.Code, errs[1].Err.Code}
	assert.ElementsMatch(t, []ErrorCode{CodeCaseConflict, CodeDuplicate}, codes)

	for _, e := range errs {
		assert.True(t, e.Quarantine)
	}

	assert.Empty(t, result.ClientActionsOfType(ActionEdit))
}

func TestDirectorySynchronizer_StorageFailureAbortsPass(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.err = errBackend

	s := newTestDirectorySync(t, storage, nil, []*DirectoryVersion{dv("/new", "n")}, nil)

	result, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, errBackend)
}
