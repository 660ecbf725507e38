package util

import "unicode/utf8"

// Truncate bounds s to at most max bytes without splitting a rune
// (error messages persisted on endpoints and dead letters).
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
