package sync

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// numberMarker matches a trailing " (N)" marker on a name stem.
var numberMarker = regexp.MustCompile(`^(.*?) ?\((\d+)\)$`)

// FindAlternativeName returns a name for a renamed copy of name that is not
// in usedNames (a set of normalized names). With a device name the marker is
// "(<device>)", "(<device> 1)", "(<device> 2)" ...; without one it is "(1)",
// "(2)" .... The counter strictly increases on every attempt, so the search
// terminates. The caller adds the returned name to usedNames.
//
// Examples:
//   - report.docx, device "" → report (1).docx
//   - report (1).docx, device "" → report (2).docx
//   - report.docx, device "Laptop" → report (Laptop).docx
//   - report (Laptop).docx, device "Laptop" → report (Laptop 1).docx
func FindAlternativeName(name string, usedNames mapset.Set[string], device string) string {
	var devicePattern *regexp.Regexp
	if device != "" {
		devicePattern = regexp.MustCompile(`^(.*?) ?\(` + regexp.QuoteMeta(device) + `(?: (\d+))?\)$`)
	}

	candidate := name
	for {
		stem, ext := splitExtension(candidate)

		if devicePattern != nil {
			candidate = bumpDeviceMarker(stem, device, devicePattern) + ext
		} else {
			candidate = bumpNumberMarker(stem) + ext
		}

		if usedNames == nil || !usedNames.Contains(NormalizeKey(candidate)) {
			return candidate
		}
	}
}

func bumpNumberMarker(stem string) string {
	m := numberMarker.FindStringSubmatch(stem)
	if m == nil {
		return withMarker(stem, "(1)")
	}

	n, err := strconv.Atoi(m[2])
	if err != nil {
		return withMarker(stem, "(1)")
	}

	return withMarker(m[1], fmt.Sprintf("(%d)", n+1))
}

func bumpDeviceMarker(stem, device string, pattern *regexp.Regexp) string {
	m := pattern.FindStringSubmatch(stem)
	if m == nil {
		return withMarker(stem, "("+device+")")
	}

	if m[2] == "" {
		return withMarker(m[1], fmt.Sprintf("(%s 1)", device))
	}

	n, err := strconv.Atoi(m[2])
	if err != nil {
		return withMarker(stem, "("+device+")")
	}

	return withMarker(m[1], fmt.Sprintf("(%s %d)", device, n+1))
}

// withMarker appends marker to stem, separated by a space unless the stem is
// empty.
func withMarker(stem, marker string) string {
	if stem == "" {
		return marker
	}

	return stem + " " + marker
}

// shortenStem drops the last character of the stem of name. It reports false
// when the stem is down to a single character.
func shortenStem(name string) (string, bool) {
	stem, ext := splitExtension(name)

	r := []rune(stem)
	if len(r) <= 1 {
		return name, false
	}

	return string(r[:len(r)-1]) + ext, true
}

// splitExtension splits a name into stem and extension. Dotfiles with no
// further dot (".bashrc") have no extension, so the marker goes after the
// whole name rather than before the leading dot.
func splitExtension(name string) (stem, ext string) {
	if strings.HasPrefix(name, ".") && strings.Count(name, ".") == 1 {
		return name, ""
	}

	ext = path.Ext(name)

	return name[:len(name)-len(ext)], ext
}
