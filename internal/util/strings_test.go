package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "longer than maxLen", input: "this-is-a-very-long-token-string", maxLen: 8, want: "this-is-"},
		{name: "empty string", input: "", maxLen: 5, want: ""},
		{name: "zero maxLen", input: "test", maxLen: 0, want: ""},
		{name: "negative maxLen", input: "test", maxLen: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSplitScope(t *testing.T) {
	got := SplitScope("  offline_access   read ")
	want := []string{"offline_access", "read"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitScope() = %v, want %v", got, want)
	}
	if got := SplitScope(""); len(got) != 0 {
		t.Errorf("SplitScope(\"\") = %v, want empty", got)
	}
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		scope string
		want  string
		ok    bool
	}{
		{"offline_access read", "offline_access", true},
		{"read offline_access", "offline_access", true},
		{"offline_access", "offline_access", true},
		{"read", "offline_access", false},
		{"offline_accessX read", "offline_access", false},
		{"", "offline_access", false},
	}
	for _, tt := range tests {
		if got := HasScope(tt.scope, tt.want); got != tt.ok {
			t.Errorf("HasScope(%q, %q) = %v, want %v", tt.scope, tt.want, got, tt.ok)
		}
	}
}
