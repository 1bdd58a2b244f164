// Package compare decides whether program output matches the expected answer.
package compare

import "strings"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize trims surrounding whitespace of the whole string and rewrites
// CRLF and bare CR line endings to LF. Whitespace inside lines is kept.
func Normalize(s string) string {
	return lineEndings.Replace(strings.TrimSpace(s))
}

// Equal reports whether actual matches expected after normalization.
func Equal(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
