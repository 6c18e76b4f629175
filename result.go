package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

const (
	sideServer = "server"
	sideClient = "client"
)

// resultView is the JSON shape of a published result.
type resultView struct {
	RoundID          string       `json:"round_id"`
	Path             string       `json:"path"`
	Interrupted      bool         `json:"interrupted"`
	Quota            *quotaView   `json:"quota,omitempty"`
	ActionsForServer []actionView `json:"actions_for_server"`
	ActionsForClient []actionView `json:"actions_for_client"`
	Diagnostics      []string     `json:"diagnostics,omitempty"`
}

type quotaView struct {
	Limit int64 `json:"limit"`
	Use   int64 `json:"use"`
}

type actionView struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	From       *versionView `json:"from,omitempty"`
	To         *versionView `json:"to,omitempty"`
	Error      *errorView   `json:"error,omitempty"`
	Quarantine bool         `json:"quarantine,omitempty"`
	Offset     int64        `json:"offset,omitempty"`
	DependsOn  string       `json:"depends_on,omitempty"`
}

type versionView struct {
	Identity string `json:"identity"`
	Checksum string `json:"checksum"`
}

type errorView struct {
	Code   string `json:"code"`
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

// newResultView flattens a result. Actions get ids of the form "server#0" so
// that DependsOn can point across lists.
func newResultView[V isync.Version](r *isync.SyncResult[V]) resultView {
	ids := make(map[*isync.Action[V]]string, len(r.ActionsForServer)+len(r.ActionsForClient))

	for i, a := range r.ActionsForServer {
		ids[a] = actionID(sideServer, i)
	}

	for i, a := range r.ActionsForClient {
		ids[a] = actionID(sideClient, i)
	}

	view := resultView{
		RoundID:          r.RoundID,
		Path:             r.Path,
		Interrupted:      r.Interrupted,
		ActionsForServer: newActionViews(r.ActionsForServer, ids),
		ActionsForClient: newActionViews(r.ActionsForClient, ids),
		Diagnostics:      r.Diagnostics,
	}

	if r.Quota != nil {
		view.Quota = &quotaView{Limit: r.Quota.Limit, Use: r.Quota.Use}
	}

	return view
}

func newActionViews[V isync.Version](actions []*isync.Action[V], ids map[*isync.Action[V]]string) []actionView {
	views := make([]actionView, 0, len(actions))

	for _, a := range actions {
		v := actionView{
			ID:         ids[a],
			Type:       a.Type.String(),
			From:       newVersionView(a.From),
			To:         newVersionView(a.To),
			Quarantine: a.Quarantine,
			Offset:     a.Offset,
		}

		if a.Err != nil {
			v.Error = &errorView{Code: string(a.Err.Code), Path: a.Err.Path, Reason: a.Err.Reason}
		}

		if a.DependsOn != nil {
			v.DependsOn = ids[a.DependsOn]
		}

		views = append(views, v)
	}

	return views
}

func newVersionView[V isync.Version](v V) *versionView {
	var absent V
	if v == absent {
		return nil
	}

	return &versionView{Identity: v.Identity(), Checksum: v.Checksum()}
}

func actionID(side string, i int) string {
	return side + "#" + strconv.Itoa(i)
}

// printResultText writes one result as a header plus an action table.
func printResultText(w io.Writer, view resultView) {
	fmt.Fprintf(w, "Round %s  %s\n", view.RoundID, view.Path)

	if view.Quota != nil {
		fmt.Fprintf(w, "Quota: %s\n", formatQuota(&isync.Quota{Limit: view.Quota.Limit, Use: view.Quota.Use}))
	}

	if view.Interrupted {
		fmt.Fprintln(w, "Interrupted: action ceiling reached, run another round for the rest")
	}

	actions := make([]actionView, 0, len(view.ActionsForServer)+len(view.ActionsForClient))
	actions = append(actions, view.ActionsForServer...)
	actions = append(actions, view.ActionsForClient...)

	if len(actions) == 0 {
		fmt.Fprintln(w, "In sync, nothing to do.")
	} else {
		rows := make([][]string, 0, len(actions))
		for _, a := range actions {
			rows = append(rows, []string{a.ID, a.Type, versionCell(a.From), versionCell(a.To), actionNote(a)})
		}

		printTable(w, []string{"ID", "TYPE", "FROM", "TO", "NOTE"}, rows)
	}

	for _, line := range view.Diagnostics {
		fmt.Fprintf(w, "  | %s\n", line)
	}

	fmt.Fprintln(w)
}

func versionCell(v *versionView) string {
	if v == nil {
		return "-"
	}

	return v.Identity
}

func actionNote(a actionView) string {
	var notes []string

	if a.Error != nil {
		note := a.Error.Code
		if a.Error.Reason != "" {
			note += ": " + a.Error.Reason
		}

		notes = append(notes, note)
	}

	if a.Quarantine {
		notes = append(notes, "quarantined")
	}

	if a.Offset > 0 {
		notes = append(notes, "resume at "+formatSize(a.Offset))
	}

	if a.DependsOn != "" {
		notes = append(notes, "after "+a.DependsOn)
	}

	return strings.Join(notes, "; ")
}
