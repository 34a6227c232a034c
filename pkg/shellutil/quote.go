package shellutil

import "strings"

// Quote quotes a string for safe use in shell commands using single quotes.
// Single quotes preserve everything literally, including newlines.
// Each embedded single quote closes the quoted string, adds an escaped
// quote (\') and reopens it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
