package sync

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ThreeWayComparison is the per-key unit of work: the version from the last
// completed round, the version the client reports now, and the server's
// current version, with the changes derived against the original.
type ThreeWayComparison[V Version] struct {
	Key          string // normalized identity
	Original     V
	Client       V
	Server       V
	ClientChange Change
	ServerChange Change
}

// NewThreeWayComparison creates a comparison and derives both changes.
func NewThreeWayComparison[V Version](key string, original, client, server V) *ThreeWayComparison[V] {
	return &ThreeWayComparison[V]{
		Key:          key,
		Original:     original,
		Client:       client,
		Server:       server,
		ClientChange: Classify(original, client),
		ServerChange: Classify(original, server),
	}
}

func (c *ThreeWayComparison[V]) String() string {
	return fmt.Sprintf("%s (client %s, server %s)", c.Key, c.ClientChange, c.ServerChange)
}

// MappingProblems holds client versions that could not enter the comparison
// table because another client version already claimed their key.
type MappingProblems[V Version] struct {
	CaseConflicts    []V // differ from another client entry by letter case only
	UnicodeConflicts []V // differ by Unicode normalization form only
	Duplicates       []V // reported twice under the identical name
}

// Len returns the total number of problematic versions.
func (p *MappingProblems[V]) Len() int {
	return len(p.CaseConflicts) + len(p.UnicodeConflicts) + len(p.Duplicates)
}

// VersionMapper merges original, client and server versions by normalized
// key into an ascending, stably ordered table of comparisons.
type VersionMapper[V Version] struct {
	keys        []string
	comparisons map[string]*ThreeWayComparison[V]
	problems    MappingProblems[V]
}

// NewVersionMapper builds the comparison table. Every key present in the
// original or server input gets an entry even when no client version maps
// to it; colliding client versions are routed to the mapping problems.
func NewVersionMapper[V Version](originals, clients, servers []V) *VersionMapper[V] {
	m := &VersionMapper[V]{
		comparisons: make(map[string]*ThreeWayComparison[V]),
	}

	originalsByKey := indexVersions(originals)
	serversByKey := indexVersions(servers)
	clientsByKey := make(map[string]V, len(clients))

	for _, client := range clients {
		if !present(client) {
			continue
		}

		key := NormalizeKey(client.Identity())

		previous, seen := clientsByKey[key]
		if !seen {
			clientsByKey[key] = client
			continue
		}

		// The entry matching the server or original spelling keeps the slot.
		keep, reject := previous, client
		if !matchesKnown(previous, originalsByKey[key], serversByKey[key]) &&
			matchesKnown(client, originalsByKey[key], serversByKey[key]) {
			keep, reject = client, previous
		}

		clientsByKey[key] = keep
		m.addProblem(keep, reject)
	}

	keys := lo.Uniq(slices.Concat(lo.Keys(originalsByKey), lo.Keys(serversByKey), lo.Keys(clientsByKey)))
	slices.Sort(keys)

	m.keys = keys
	for _, key := range keys {
		m.comparisons[key] = NewThreeWayComparison(key, originalsByKey[key], clientsByKey[key], serversByKey[key])
	}

	return m
}

// addProblem classifies why reject collided with keep.
func (m *VersionMapper[V]) addProblem(keep, reject V) {
	switch {
	case keep.Identity() == reject.Identity():
		m.problems.Duplicates = append(m.problems.Duplicates, reject)
	case nfc(keep.Identity()) == nfc(reject.Identity()):
		m.problems.UnicodeConflicts = append(m.problems.UnicodeConflicts, reject)
	default:
		m.problems.CaseConflicts = append(m.problems.CaseConflicts, reject)
	}
}

// Len returns the number of comparisons.
func (m *VersionMapper[V]) Len() int {
	return len(m.keys)
}

// Keys returns the normalized keys in processing order.
func (m *VersionMapper[V]) Keys() []string {
	return slices.Clone(m.keys)
}

// Get returns the comparison for a normalized key, or nil.
func (m *VersionMapper[V]) Get(key string) *ThreeWayComparison[V] {
	return m.comparisons[key]
}

// All iterates the comparisons in ascending key order.
func (m *VersionMapper[V]) All() iter.Seq2[string, *ThreeWayComparison[V]] {
	return func(yield func(string, *ThreeWayComparison[V]) bool) {
		for _, key := range m.keys {
			if !yield(key, m.comparisons[key]) {
				return
			}
		}
	}
}

// Descendants iterates the comparisons whose key lies below the given key.
func (m *VersionMapper[V]) Descendants(key string) iter.Seq2[string, *ThreeWayComparison[V]] {
	prefix := strings.TrimSuffix(key, "/") + "/"

	return func(yield func(string, *ThreeWayComparison[V]) bool) {
		start, _ := slices.BinarySearch(m.keys, prefix)
		for _, k := range m.keys[start:] {
			if !strings.HasPrefix(k, prefix) {
				return
			}

			if k == key {
				continue
			}

			if !yield(k, m.comparisons[k]) {
				return
			}
		}
	}
}

// Problems returns the client versions that collided during mapping.
func (m *VersionMapper[V]) Problems() *MappingProblems[V] {
	return &m.problems
}

// indexVersions keys versions by normalized identity; the first one wins.
func indexVersions[V Version](versions []V) map[string]V {
	index := make(map[string]V, len(versions))

	for _, v := range versions {
		if !present(v) {
			continue
		}

		key := NormalizeKey(v.Identity())
		if _, ok := index[key]; !ok {
			index[key] = v
		}
	}

	return index
}

// matchesKnown reports whether v is spelled exactly like the original or
// server version at the same key.
func matchesKnown[V Version](v, original, server V) bool {
	return (present(original) && original.Identity() == v.Identity()) ||
		(present(server) && server.Identity() == v.Identity())
}
