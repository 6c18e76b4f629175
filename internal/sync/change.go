package sync

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Change classifies how a version differs from a reference version.
type Change int

// Change kinds. Derived per round, never stored.
const (
	ChangeNone Change = iota
	ChangeNew
	ChangeModified
	ChangeDeleted
)

func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// changed reports whether c is NEW or MODIFIED.
func (c Change) changed() bool {
	return c == ChangeNew || c == ChangeModified
}

// Classify compares candidate against reference. MODIFIED also fires when
// only the case or Unicode form of the identity differs, which is what lets
// the policies tell a pure rename from a content change.
func Classify[V Version](reference, candidate V) Change {
	switch {
	case !present(reference) && !present(candidate):
		return ChangeNone
	case !present(reference):
		return ChangeNew
	case !present(candidate):
		return ChangeDeleted
	case equalChecksums(reference.Checksum(), candidate.Checksum()) &&
		reference.Identity() == candidate.Identity():
		return ChangeNone
	default:
		return ChangeModified
	}
}

func equalChecksums(a, b string) bool {
	return strings.EqualFold(a, b)
}

// NormalizeKey maps a name or path to the key the mapper matches versions by:
// Unicode NFC form, case-folded. The original string is kept on the version.
func NormalizeKey(s string) string {
	// cases.Caser is stateful, so a fresh one per call.
	return norm.NFC.String(cases.Fold().String(norm.NFC.String(s)))
}

// nfc returns the NFC form of s without case folding.
func nfc(s string) string {
	return norm.NFC.String(s)
}
