package pattern

import "strings"

// MatchesGlob checks if a string matches a glob pattern with * wildcard
// support. This is the centralised pattern matching logic used for model
// include/exclude filters.
//
// Semantics: * matches any (possibly empty) substring; a pattern without *
// is an exact match; multiple * separate substrings that must appear in
// order, with the first and last segments anchored to the start and end.
func MatchesGlob(s, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		// exact match
		return s == pattern
	}

	parts := strings.Split(pattern, "*")

	// leading segment anchors the prefix
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	rest := s[len(parts[0]):]

	// interior segments must appear in order; matching each at its earliest
	// position leaves the longest possible remainder for the tail
	last := len(parts) - 1
	for _, part := range parts[1:last] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}

	// trailing segment anchors the suffix
	return strings.HasSuffix(rest, parts[last])
}

// MatchesAny reports whether s matches at least one of the patterns.
func MatchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if MatchesGlob(s, p) {
			return true
		}
	}
	return false
}
