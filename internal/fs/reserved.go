package fs

import (
	"path/filepath"
	"strings"
)

// defaultReservedPatterns are always applied. Hidden names are where atomic
// writes and spooling keep their temp files.
var defaultReservedPatterns = []string{".*"}

// reservedPattern is a parsed pattern with its matching strategy.
type reservedPattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// ReservedMatcher checks user-chosen names against patterns the storage root
// keeps for itself.
// Patterns without '/' match against the basename only.
// Patterns with '/' match against the full relative path from the storage root.
type ReservedMatcher struct {
	patterns []reservedPattern
}

// NewReservedMatcher creates a ReservedMatcher from raw pattern strings in
// addition to the defaults. Blank lines and lines starting with '#' are skipped.
func NewReservedMatcher(rawPatterns []string) *ReservedMatcher {
	var patterns []reservedPattern
	for _, raw := range append(append([]string{}, defaultReservedPatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, reservedPattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ReservedMatcher{patterns: patterns}
}

// Match reports whether the given relative path is reserved.
// relativePath is slash-separated and relative to the storage root.
func (m *ReservedMatcher) Match(relativePath string) bool {
	if relativePath == "" || len(m.patterns) == 0 {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
