// Package keypattern implements wildcard matching over hierarchical cache
// keys. Keys are colon-separated segments ("chat:123:messages:0"); a pattern
// segment of "*" matches one or more consecutive key segments, every other
// segment must match exactly.
package keypattern

import "strings"

// Separator joins key segments in their canonical string form.
const Separator = ":"

// Wildcard is the pattern segment matching one or more key segments.
const Wildcard = "*"

// Split breaks a key or pattern into its segments.
func Split(s string) []string {
	return strings.Split(s, Separator)
}

// HasWildcard reports whether the pattern contains a wildcard segment.
// Patterns without wildcards behave as exact keys.
func HasWildcard(pattern string) bool {
	for _, seg := range Split(pattern) {
		if seg == Wildcard {
			return true
		}
	}
	return false
}

// Match reports whether pattern matches key. It is deterministic and
// side-effect free. An empty pattern matches nothing, never everything:
// a caller that wants a full wipe must say so explicitly.
func Match(pattern, key string) bool {
	if pattern == "" || key == "" {
		return false
	}
	if !HasWildcard(pattern) {
		return pattern == key
	}
	return matchSegments(Split(pattern), Split(key))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == Wildcard {
		// The wildcard must consume at least one segment.
		for i := 1; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 || pat[0] != segs[0] {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
