package sync

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	ignore "github.com/sabhiram/go-gitignore"
)

// Default name limits.
const (
	DefaultMaxNameLength = 255  // bytes per path segment
	DefaultMaxPathLength = 1024 // characters per full path
)

// DefaultMetadataFileName is the name of the drive metadata pseudo-file.
const DefaultMetadataFileName = ".drive-meta"

// illegalChars are characters that no name may contain.
const illegalChars = `<>:"/\|?*`

// reservedNames are device names that cannot be used as a file or folder
// name, with or without extension (case-insensitive).
var reservedNames = func() map[string]bool {
	names := map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
	}

	for i := range 10 {
		names[fmt.Sprintf("COM%d", i)] = true
		names[fmt.Sprintf("LPT%d", i)] = true
	}

	return names
}()

// FilterOptions configures a NameFilter.
type FilterOptions struct {
	IgnorePatterns   []string // gitignore syntax; administratively ignored names
	MetadataFileName string
	MaxNameLength    int
	MaxPathLength    int
}

// FilterResult indicates whether a name may be synchronized and why not.
type FilterResult struct {
	Included bool
	Code     ErrorCode // empty when included
	Reason   string
}

// NameFilter rejects names that are syntactically invalid or
// administratively ignored. It is immutable and safe for concurrent use.
type NameFilter struct {
	ignore        *ignore.GitIgnore
	metadataName  string
	maxNameLength int
	maxPathLength int
	logger        *slog.Logger
}

// NewNameFilter creates a NameFilter. Zero-valued options fall back to the defaults.
func NewNameFilter(opts FilterOptions, logger *slog.Logger) *NameFilter {
	if logger == nil {
		logger = slog.Default()
	}

	f := &NameFilter{
		ignore:        ignore.CompileIgnoreLines(opts.IgnorePatterns...),
		metadataName:  opts.MetadataFileName,
		maxNameLength: opts.MaxNameLength,
		maxPathLength: opts.MaxPathLength,
		logger:        logger,
	}

	if f.metadataName == "" {
		f.metadataName = DefaultMetadataFileName
	}

	if f.maxNameLength <= 0 {
		f.maxNameLength = DefaultMaxNameLength
	}

	if f.maxPathLength <= 0 {
		f.maxPathLength = DefaultMaxPathLength
	}

	return f
}

// IsMetadata reports whether name is the drive metadata pseudo-file.
func (f *NameFilter) IsMetadata(name string) bool {
	return name == f.metadataName
}

// MetadataFileName returns the name of the drive metadata pseudo-file.
func (f *NameFilter) MetadataFileName() string {
	return f.metadataName
}

// CheckFile validates a file name created by a client in folder. The
// metadata pseudo-file name is reserved for the server.
func (f *NameFilter) CheckFile(folder, name string) FilterResult {
	if f.IsMetadata(name) {
		return excluded(CodeInvalidName, "name is reserved")
	}

	if valid, reason := f.isValidName(name); !valid {
		return excluded(CodeInvalidName, reason)
	}

	full := strings.TrimSuffix(folder, "/") + "/" + name
	if valid, reason := f.isValidPath(full); !valid {
		return excluded(CodeInvalidName, reason)
	}

	if f.ignore.MatchesPath(strings.TrimPrefix(full, "/")) {
		f.logger.Debug("file name ignored by pattern", slog.String("path", full))
		return excluded(CodeIgnoredName, "name is excluded from synchronization")
	}

	return FilterResult{Included: true}
}

// CheckDirectory validates every segment of a directory path.
func (f *NameFilter) CheckDirectory(dirPath string) FilterResult {
	if !strings.HasPrefix(dirPath, "/") {
		return excluded(CodeInvalidName, "path is not absolute")
	}

	if valid, reason := f.isValidPath(dirPath); !valid {
		return excluded(CodeInvalidName, reason)
	}

	rel := strings.Trim(dirPath, "/")
	if rel == "" {
		return FilterResult{Included: true}
	}

	for _, segment := range strings.Split(rel, "/") {
		if valid, reason := f.isValidName(segment); !valid {
			return excluded(CodeInvalidName, reason)
		}
	}

	if f.ignore.MatchesPath(rel) || f.ignore.MatchesPath(rel+"/") {
		f.logger.Debug("directory ignored by pattern", slog.String("path", dirPath))
		return excluded(CodeIgnoredName, "directory is excluded from synchronization")
	}

	return FilterResult{Included: true}
}

// ValidateDeviceName checks that device can appear inside the marker of a
// renamed copy's name. The empty device name is valid.
func ValidateDeviceName(device string) error {
	for _, ch := range device {
		if strings.ContainsRune(illegalChars, ch) {
			return fmt.Errorf("device name %q contains illegal character %q", device, string(ch))
		}

		if unicode.IsControl(ch) {
			return fmt.Errorf("device name %q contains a control character", device)
		}
	}

	return nil
}

// exceedsLength reports whether name in folder is over the name or the path
// length limit.
func (f *NameFilter) exceedsLength(folder, name string) bool {
	full := strings.TrimSuffix(folder, "/") + "/" + name

	return len(name) > f.maxNameLength || utf8.RuneCountInString(full) > f.maxPathLength
}

func excluded(code ErrorCode, reason string) FilterResult {
	return FilterResult{Included: false, Code: code, Reason: reason}
}

// isValidName checks a single path segment. Returns (true, "") if valid,
// or (false, reason) if invalid.
func (f *NameFilter) isValidName(name string) (bool, string) {
	if name == "" {
		return false, "name is empty"
	}

	if name == "." || name == ".." {
		return false, fmt.Sprintf("%q is not a valid name", name)
	}

	for _, ch := range name {
		if strings.ContainsRune(illegalChars, ch) {
			return false, fmt.Sprintf("contains illegal character %q", string(ch))
		}

		if unicode.IsControl(ch) {
			return false, "contains a control character"
		}
	}

	upper := strings.ToUpper(name)
	if dot := strings.IndexByte(upper, '.'); dot >= 0 {
		upper = upper[:dot]
	}

	if reservedNames[upper] {
		return false, fmt.Sprintf("%q is a reserved name", name)
	}

	if strings.HasSuffix(name, ".") {
		return false, "name ends with a dot"
	}

	if strings.HasSuffix(name, " ") {
		return false, "name ends with a space"
	}

	if len(name) > f.maxNameLength {
		return false, fmt.Sprintf("name exceeds %d bytes", f.maxNameLength)
	}

	return true, ""
}

// isValidPath checks the full path length in characters.
func (f *NameFilter) isValidPath(p string) (bool, string) {
	if len([]rune(p)) > f.maxPathLength {
		return false, fmt.Sprintf("path exceeds %d characters", f.maxPathLength)
	}

	return true, ""
}
