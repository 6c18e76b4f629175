package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
)

// MinActionCeiling is the smallest per-pass action ceiling the built-in
// policies accept. It covers the costliest single comparison (a keep-both
// with a refused modification), so a pass never exceeds its ceiling.
const MinActionCeiling = 4

// Policy holds the domain rules for one item kind. Each hook appends its
// actions to result and returns their non-trivial cost.
type Policy[V Version] interface {
	ProcessServerChange(ctx context.Context, result *IntermediateSyncResult[V], c *ThreeWayComparison[V]) (int, error)
	ProcessClientChange(ctx context.Context, result *IntermediateSyncResult[V], c *ThreeWayComparison[V]) (int, error)
	ProcessConflictingChange(ctx context.Context, result *IntermediateSyncResult[V], c *ThreeWayComparison[V]) (int, error)
	MaxActions() int
}

// Session is the per-pass context of a synchronizer: who is synchronizing,
// from which device, and where decision traces go. A Session belongs to one
// pass and must not be shared between concurrent passes.
type Session struct {
	RoundID    string
	UserID     int
	DeviceName string

	logger      *slog.Logger
	diagnostics *Diagnostics
}

// NewSession creates a Session. A nil logger falls back to slog.Default().
func NewSession(roundID string, userID int, deviceName string, diagnostics bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		RoundID:     roundID,
		UserID:      userID,
		DeviceName:  deviceName,
		logger:      logger.With(slog.String("round_id", roundID)),
		diagnostics: &Diagnostics{enabled: diagnostics},
	}
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Diagnostics returns the captured decision trace.
func (s *Session) Diagnostics() *Diagnostics {
	return s.diagnostics
}

// trace logs a decision at debug level and captures it, attributes
// rendered as key=value, when diagnostics are enabled.
func (s *Session) trace(msg string, attrs ...slog.Attr) {
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)

	if !s.diagnostics.enabled {
		return
	}

	var b strings.Builder
	b.WriteString(msg)

	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
	}

	s.diagnostics.add(b.String())
}

// Diagnostics is an optional, per-pass log of engine decisions returned
// with the sync result.
type Diagnostics struct {
	mu      gosync.Mutex
	enabled bool
	lines   []string
}

func (d *Diagnostics) add(line string) {
	if !d.enabled {
		return
	}

	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
}

// Lines returns a copy of the captured lines, or nil when disabled.
func (d *Diagnostics) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.lines) == 0 {
		return nil
	}

	return append([]string(nil), d.lines...)
}

// synchronizer is the generic driver: it walks the comparisons in key order,
// routes each one to a policy hook by which side changed, and stops once the
// next comparison would push the cumulative cost over the policy's ceiling.
type synchronizer[V Version] struct {
	session *Session
	mapper  *VersionMapper[V]
	policy  Policy[V]
}

func newSynchronizer[V Version](session *Session, mapper *VersionMapper[V], policy Policy[V]) *synchronizer[V] {
	return &synchronizer[V]{session: session, mapper: mapper, policy: policy}
}

// sync runs the main pass. Each comparison is resolved into a scratch result
// that is only merged when it fits the budget, so the cumulative cost never
// exceeds the ceiling and deferred comparisons are a suffix of the key order.
// The first comparison is always accepted so a round makes progress. Any
// error aborts the pass without a result.
func (s *synchronizer[V]) sync(ctx context.Context) (*IntermediateSyncResult[V], error) {
	result := NewIntermediateSyncResult[V]()
	maxActions := s.policy.MaxActions()
	total, processed := 0, 0

	for key, comparison := range s.mapper.All() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync: pass abandoned: %w", err)
		}

		scratch := NewIntermediateSyncResult[V]()

		cost, err := s.process(ctx, scratch, comparison)
		if err != nil {
			return nil, fmt.Errorf("sync: processing %q: %w", key, err)
		}

		if processed > 0 && total+cost > maxActions {
			s.session.logger.Warn("action budget exhausted, deferring remaining changes",
				slog.Int("max_actions", maxActions),
				slog.Int("cost", total),
				slog.Int("processed", processed),
				slog.Int("deferred", s.mapper.Len()-processed),
			)
			s.session.trace("budget reached",
				slog.String("next_key", key),
				slog.Int("max_actions", maxActions),
			)

			result.Interrupted = true

			break
		}

		total += cost
		processed++

		result.append(scratch)
	}

	return result, nil
}

// process dispatches one comparison on (clientChange, serverChange).
func (s *synchronizer[V]) process(
	ctx context.Context, result *IntermediateSyncResult[V], c *ThreeWayComparison[V],
) (int, error) {
	switch {
	case c.ClientChange == ChangeNone && c.ServerChange == ChangeNone:
		return 0, nil
	case c.ClientChange == ChangeNone:
		s.session.trace("server change", comparisonAttrs(c)...)
		return s.policy.ProcessServerChange(ctx, result, c)
	case c.ServerChange == ChangeNone:
		s.session.trace("client change", comparisonAttrs(c)...)
		return s.policy.ProcessClientChange(ctx, result, c)
	default:
		s.session.trace("conflicting change", comparisonAttrs(c)...)
		return s.policy.ProcessConflictingChange(ctx, result, c)
	}
}

func comparisonAttrs[V Version](c *ThreeWayComparison[V]) []slog.Attr {
	return []slog.Attr{
		slog.String("key", c.Key),
		slog.String("client_change", c.ClientChange.String()),
		slog.String("server_change", c.ServerChange.String()),
	}
}
