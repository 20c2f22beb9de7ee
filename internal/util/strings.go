package util

import "strings"

// SafeTruncate returns at most maxLen bytes of s. It is used to log a prefix
// of a credential or identifier instead of the whole value.
//
//	SafeTruncate("eyJhbGciOiJSUzI1NiJ9", 8) // "eyJhbGci"
//	SafeTruncate("short", 10)                // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitScope splits a space-delimited scope string (RFC 6749 section 3.3),
// dropping empty entries.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// HasScope reports whether the space-delimited scope contains want as a
// whole scope token.
func HasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
