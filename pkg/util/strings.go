package util

import "strings"

// SplitLast splits s around the last occurrence of sep.
func SplitLast(s, sep string) (before, after string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
