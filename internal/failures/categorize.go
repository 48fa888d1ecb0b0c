// Package failures categorizes errors, persists failure history, and derives
// retry and recovery guidance from it.
package failures

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Error categories. Categorization is a stable case-insensitive substring
// match, so order matters where signatures overlap.
const (
	CategoryPermissionDenied = "permission_denied"
	CategoryFileNotFound     = "file_not_found"
	CategoryCommandNotFound  = "command_not_found"
	CategorySyntaxError      = "syntax_error"
	CategoryNetworkError     = "network_error"
	CategoryTimeout          = "timeout"
	CategoryDiskSpace        = "disk_space"
	CategoryPackageConflict  = "package_conflict"
	CategoryMemoryError      = "memory_error"
	CategoryProcessKilled    = "process_killed"
	CategoryParseError       = "parse_error"
	CategoryUnknown          = "unknown"
)

type signature struct {
	category   string
	substrings []string
}

// command_not_found precedes file_not_found: "executable file not found"
// and "command not found" both contain weaker matches.
var signatures = []signature{
	{CategoryCommandNotFound, []string{"command not found", "executable file not found", "is not recognized"}},
	{CategoryPermissionDenied, []string{"permission denied", "access denied", "operation not permitted", "eacces"}},
	{CategoryFileNotFound, []string{"no such file", "file not found", "enoent", "does not exist"}},
	{CategorySyntaxError, []string{"syntax error", "invalid syntax", "unexpected token"}},
	{CategoryTimeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{CategoryDiskSpace, []string{"no space left", "disk full", "enospc", "disk quota"}},
	{CategoryPackageConflict, []string{"dependency conflict", "version conflict", "incompatible version", "requires a different version"}},
	{CategoryMemoryError, []string{"out of memory", "cannot allocate memory", "oom"}},
	{CategoryProcessKilled, []string{"signal: killed", "process killed", "signal: terminated"}},
	{CategoryParseError, []string{"parse error", "cannot parse", "cannot unmarshal", "invalid json", "invalid character"}},
	{CategoryNetworkError, []string{"connection refused", "connection reset", "no route to host", "network is unreachable", "dns", "dial tcp"}},
}

// Categorize maps an error message to its category.
func Categorize(message string) string {
	lower := strings.ToLower(message)
	for _, sig := range signatures {
		for _, sub := range sig.substrings {
			if strings.Contains(lower, sub) {
				return sig.category
			}
		}
	}
	return CategoryUnknown
}

// MaxRetries is the per-category retry budget. Permanent categories get
// zero, transient ones three, unknown a single probe.
func MaxRetries(category string) int {
	switch category {
	case CategoryNetworkError, CategoryTimeout, CategoryMemoryError:
		return 3
	case CategoryUnknown:
		return 1
	}
	return 0
}

var (
	pathPattern = regexp.MustCompile(`(?:~|/)[\w@%+=:,.~-]*(?:/[\w@%+=:,.~-]+)+/?`)
	numPattern  = regexp.MustCompile(`\b\d+\b`)
	wsPattern   = regexp.MustCompile(`\s+`)
)

const normalizeLimit = 200

// Normalize rewrites an error message into its pattern form: paths and
// integers become placeholders, case folds, whitespace collapses, and the
// result truncates. Applying it twice yields the same string.
func Normalize(message string) string {
	s := strings.ToLower(message)
	s = pathPattern.ReplaceAllString(s, "<path>")
	s = numPattern.ReplaceAllString(s, "<num>")
	s = wsPattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > normalizeLimit {
		cut := normalizeLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// PatternHash keys a failure pattern by tool, category and normalized text.
func PatternHash(tool, category, message string) string {
	sum := sha256.Sum256([]byte(tool + "|" + category + "|" + Normalize(message)))
	return hex.EncodeToString(sum[:])
}

// staticHints are known fixes per category, merged with learned patterns.
var staticHints = map[string][]string{
	CategoryPermissionDenied: {
		"check file ownership and mode bits",
		"retry against a path inside an allowed root",
	},
	CategoryFileNotFound: {
		"verify the path exists before operating on it",
		"create parent directories first",
	},
	CategoryCommandNotFound: {
		"install the missing executable or fix PATH",
	},
	CategorySyntaxError: {
		"re-translate the command, the generated arguments were malformed",
	},
	CategoryNetworkError: {
		"check connectivity and retry",
		"verify the remote host and port",
	},
	CategoryTimeout: {
		"retry with a longer deadline",
		"split the operation into smaller steps",
	},
	CategoryDiskSpace: {
		"free disk space or target a different volume",
	},
	CategoryPackageConflict: {
		"pin compatible versions or use an isolated environment",
	},
	CategoryMemoryError: {
		"reduce the working set or batch the operation",
	},
	CategoryProcessKilled: {
		"check for resource limits or an external supervisor",
	},
	CategoryParseError: {
		"inspect the raw output, the format was not what was expected",
	},
}

// StaticHints returns the built-in suggestions for a category.
func StaticHints(category string) []string {
	return staticHints[category]
}
