package obsync

import (
	"fmt"
	"strings"

	"github.com/vnykmshr/obsync-go/internal/keypattern"
)

// Key is a structured cache key: a namespace plus ordered segments with one
// canonical string form ("chat:123:messages:0"). Building keys through this
// type keeps cache keys and invalidation patterns from drifting apart the
// way ad-hoc string concatenation does.
type Key struct {
	Namespace string
	Segments  []string
}

// NewKey builds a key from a namespace and ordered segments.
func NewKey(namespace string, segments ...string) Key {
	return Key{Namespace: namespace, Segments: segments}
}

// ParseKey splits a canonical key string back into its parts.
func ParseKey(s string) Key {
	parts := keypattern.Split(s)
	if len(parts) == 0 {
		return Key{}
	}
	return Key{Namespace: parts[0], Segments: parts[1:]}
}

// String returns the canonical form used for lookups and pattern matching.
func (k Key) String() string {
	if len(k.Segments) == 0 {
		return k.Namespace
	}
	return k.Namespace + keypattern.Separator + strings.Join(k.Segments, keypattern.Separator)
}

// Child returns a key with additional trailing segments.
func (k Key) Child(segments ...string) Key {
	combined := make([]string, 0, len(k.Segments)+len(segments))
	combined = append(combined, k.Segments...)
	combined = append(combined, segments...)
	return Key{Namespace: k.Namespace, Segments: combined}
}

// Pattern returns the key's canonical form with a trailing wildcard,
// matching the key's own subtree ("chat:1" -> "chat:1:*").
func (k Key) Pattern() string {
	return k.String() + keypattern.Separator + keypattern.Wildcard
}

// Validate reports structural problems: an empty namespace, empty segments,
// or segments containing the separator or wildcard characters, all of which
// would silently break pattern invalidation.
func (k Key) Validate() error {
	if k.Namespace == "" {
		return fmt.Errorf("key namespace must not be empty")
	}
	if strings.Contains(k.Namespace, keypattern.Separator) || k.Namespace == keypattern.Wildcard {
		return fmt.Errorf("invalid key namespace %q", k.Namespace)
	}
	for i, seg := range k.Segments {
		if seg == "" {
			return fmt.Errorf("key segment %d must not be empty", i)
		}
		if strings.Contains(seg, keypattern.Separator) || seg == keypattern.Wildcard {
			return fmt.Errorf("invalid key segment %q", seg)
		}
	}
	return nil
}

// KeyString is shorthand for NewKey(namespace, segments...).String().
func KeyString(namespace string, segments ...string) string {
	return NewKey(namespace, segments...).String()
}

// MatchKey reports whether pattern matches key, using the invalidation
// engine's wildcard semantics.
func MatchKey(pattern, key string) bool {
	return keypattern.Match(pattern, key)
}
