package sync

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the reason of an ERROR action.
type ErrorCode string

// Error codes reported to the client.
const (
	CodeInvalidName        ErrorCode = "invalid-name"
	CodeIgnoredName        ErrorCode = "ignored-name"
	CodeConflictingName    ErrorCode = "conflicting-name" // file and directory with the same name
	CodeNoCreatePermission ErrorCode = "no-create-permission"
	CodeNoModifyPermission ErrorCode = "no-modify-permission"
	CodeNoDeletePermission ErrorCode = "no-delete-permission"
	CodeCaseConflict       ErrorCode = "case-conflict"
	CodeUnicodeConflict    ErrorCode = "unicode-conflict"
	CodeDuplicate          ErrorCode = "duplicate"
)

// SyncError is the structured error carried by an ERROR action. It never
// aborts a pass.
type SyncError struct {
	Code   ErrorCode
	Path   string
	Reason string
}

func (e *SyncError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Path)
	}

	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Reason)
}

func newSyncError(code ErrorCode, p, reason string) *SyncError {
	return &SyncError{Code: code, Path: p, Reason: reason}
}

// ErrUnexpectedChange is matched by every UnexpectedChangeError.
var ErrUnexpectedChange = errors.New("sync: unexpected change combination")

// ErrFolderNotFound indicates that the synchronized folder does not exist.
var ErrFolderNotFound = errors.New("sync: folder not found")

// UnexpectedChangeError reports a (client, server) change pair that a
// resolution hook has no branch for. It is a logic defect and aborts the pass.
type UnexpectedChangeError struct {
	Hook   string
	Key    string
	Client Change
	Server Change
}

func (e *UnexpectedChangeError) Error() string {
	return fmt.Sprintf("sync: %s: unexpected change combination for %q: client %s, server %s",
		e.Hook, e.Key, e.Client, e.Server)
}

// Unwrap makes errors.Is(err, ErrUnexpectedChange) hold.
func (e *UnexpectedChangeError) Unwrap() error {
	return ErrUnexpectedChange
}

func unexpected[V Version](hook string, c *ThreeWayComparison[V]) error {
	return &UnexpectedChangeError{Hook: hook, Key: c.Key, Client: c.ClientChange, Server: c.ServerChange}
}
