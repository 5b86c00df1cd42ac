package obsync

import "testing"

func TestKeyString(t *testing.T) {
	key := NewKey("chat", "123", "messages")
	if key.String() != "chat:123:messages" {
		t.Fatalf("Expected chat:123:messages, got %q", key.String())
	}

	bare := NewKey("config")
	if bare.String() != "config" {
		t.Fatalf("Expected bare namespace, got %q", bare.String())
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	key := ParseKey("chat:123:messages:0")
	if key.Namespace != "chat" {
		t.Fatalf("Expected namespace chat, got %q", key.Namespace)
	}
	if len(key.Segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(key.Segments))
	}
	if key.String() != "chat:123:messages:0" {
		t.Fatalf("Round trip broke: %q", key.String())
	}
}

func TestKeyChild(t *testing.T) {
	base := NewKey("chat", "1")
	child := base.Child("messages", "42")
	if child.String() != "chat:1:messages:42" {
		t.Fatalf("Expected chat:1:messages:42, got %q", child.String())
	}
	// parent must be unchanged
	if base.String() != "chat:1" {
		t.Fatalf("Child must not mutate parent, got %q", base.String())
	}
}

func TestKeyPattern(t *testing.T) {
	pattern := NewKey("chat", "1").Pattern()
	if pattern != "chat:1:*" {
		t.Fatalf("Expected chat:1:*, got %q", pattern)
	}
	if !MatchKey(pattern, "chat:1:messages:42") {
		t.Fatal("Subtree pattern should match descendant keys")
	}
	if MatchKey(pattern, "chat:1") {
		t.Fatal("Subtree pattern must not match the key itself")
	}
}

func TestKeyValidate(t *testing.T) {
	valid := NewKey("chat", "1", "messages")
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid key, got %v", err)
	}

	cases := []Key{
		NewKey(""),
		NewKey("chat", ""),
		NewKey("chat", "a:b"),
		NewKey("chat", "*"),
		NewKey("a:b"),
	}
	for _, key := range cases {
		if err := key.Validate(); err == nil {
			t.Fatalf("Expected validation error for %+v", key)
		}
	}
}

func TestMatchKeySemantics(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"chat:1:messages:*", "chat:1:messages:42", true},
		{"chat:1:messages:*", "chat:1:messages:42:replies", true},
		{"chat:1:messages:*", "chat:1:messages", false},
		{"chat:*", "chat:1", true},
		{"chat:*", "other:1", false},
		{"chat:1", "chat:1", true},
		{"chat:1", "chat:2", false},
		{"", "chat:1", false},
	}
	for _, tc := range cases {
		if got := MatchKey(tc.pattern, tc.key); got != tc.want {
			t.Fatalf("MatchKey(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
