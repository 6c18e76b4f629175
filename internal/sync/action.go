package sync

import (
	"fmt"

	"github.com/samber/lo"
)

// ActionType is the kind of instruction in a sync result.
type ActionType int

// Action types. Every type except ActionAcknowledge counts toward the
// per-round action budget.
const (
	ActionSync        ActionType = iota // synchronize a directory's contents
	ActionDownload                      // fetch the server version
	ActionUpload                        // send the client version
	ActionEdit                          // rename/move; with no From on the server list: create
	ActionRemove                        // delete the version
	ActionAcknowledge                   // record To as the new synchronized version
	ActionError                         // report a problem with the version
)

func (t ActionType) String() string {
	switch t {
	case ActionSync:
		return "sync"
	case ActionDownload:
		return "download"
	case ActionUpload:
		return "upload"
	case ActionEdit:
		return "edit"
	case ActionRemove:
		return "remove"
	case ActionAcknowledge:
		return "acknowledge"
	case ActionError:
		return "error"
	default:
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
}

// Action is one instruction for the client or the server. Actions are
// write-once; order within a result list is significant, and DependsOn names
// the action that must complete first.
type Action[V Version] struct {
	Type       ActionType
	From       V
	To         V
	Comparison *ThreeWayComparison[V]

	// Quarantine tells the client to stop retrying until the user intervenes.
	// Only meaningful for ActionError.
	Quarantine bool
	Err        *SyncError

	// Offset is the resumable-upload byte offset, stamped after the main pass.
	Offset int64

	DependsOn *Action[V]
}

// NonTrivial reports whether the action counts toward the action budget.
func (a *Action[V]) NonTrivial() bool {
	return a.Type != ActionAcknowledge
}

func (a *Action[V]) String() string {
	s := fmt.Sprintf("%s %v -> %v", a.Type, a.From, a.To)
	if a.Err != nil {
		s += fmt.Sprintf(" (%s, quarantine=%t)", a.Err.Code, a.Quarantine)
	}

	return s
}

func newAction[V Version](t ActionType, from, to V, c *ThreeWayComparison[V]) *Action[V] {
	return &Action[V]{Type: t, From: from, To: to, Comparison: c}
}

func newErrorAction[V Version](from, to V, c *ThreeWayComparison[V], err *SyncError, quarantine bool) *Action[V] {
	a := newAction(ActionError, from, to, c)
	a.Err = err
	a.Quarantine = quarantine

	return a
}

func (a *Action[V]) after(dep *Action[V]) *Action[V] {
	a.DependsOn = dep
	return a
}

// IntermediateSyncResult accumulates the actions of one pass: the mutations
// destined for the server and the instructions for the client.
type IntermediateSyncResult[V Version] struct {
	ActionsForServer []*Action[V]
	ActionsForClient []*Action[V]

	// Interrupted is set when the action budget stopped the pass early.
	Interrupted bool
}

// NewIntermediateSyncResult creates an empty result.
func NewIntermediateSyncResult[V Version]() *IntermediateSyncResult[V] {
	return &IntermediateSyncResult[V]{}
}

// AddActionForServer appends a server action and returns it.
func (r *IntermediateSyncResult[V]) AddActionForServer(a *Action[V]) *Action[V] {
	r.ActionsForServer = append(r.ActionsForServer, a)
	return a
}

// AddActionForClient appends a client action and returns it.
func (r *IntermediateSyncResult[V]) AddActionForClient(a *Action[V]) *Action[V] {
	r.ActionsForClient = append(r.ActionsForClient, a)
	return a
}

// NonTrivialCount returns the number of actions that count toward the budget.
func (r *IntermediateSyncResult[V]) NonTrivialCount() int {
	count := func(a *Action[V]) bool { return a.NonTrivial() }

	return lo.CountBy(r.ActionsForServer, count) + lo.CountBy(r.ActionsForClient, count)
}

// IsEmpty reports whether the result holds no actions at all.
func (r *IntermediateSyncResult[V]) IsEmpty() bool {
	return len(r.ActionsForServer) == 0 && len(r.ActionsForClient) == 0
}

// ClientActionsOfType filters the client actions to a single type.
func (r *IntermediateSyncResult[V]) ClientActionsOfType(t ActionType) []*Action[V] {
	return lo.Filter(r.ActionsForClient, func(a *Action[V], _ int) bool { return a.Type == t })
}

// ServerActionsOfType filters the server actions to a single type.
func (r *IntermediateSyncResult[V]) ServerActionsOfType(t ActionType) []*Action[V] {
	return lo.Filter(r.ActionsForServer, func(a *Action[V], _ int) bool { return a.Type == t })
}

func (r *IntermediateSyncResult[V]) append(other *IntermediateSyncResult[V]) {
	r.ActionsForServer = append(r.ActionsForServer, other.ActionsForServer...)
	r.ActionsForClient = append(r.ActionsForClient, other.ActionsForClient...)
}

// SyncResult is the published outcome of a round for one scope.
type SyncResult[V Version] struct {
	RoundID          string
	Path             string
	ActionsForClient []*Action[V]
	ActionsForServer []*Action[V]
	Diagnostics      []string
	Quota            *Quota
	Interrupted      bool
}
