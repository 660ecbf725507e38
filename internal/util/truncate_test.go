package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "", Truncate("", 5))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := "boleto vencido: código inválido"
	for max := 1; max < len(s); max++ {
		got := Truncate(s, max)
		assert.True(t, utf8.ValidString(got), "max=%d produced invalid UTF-8", max)
		assert.LessOrEqual(t, len(got), max)
		assert.True(t, strings.HasPrefix(s, got))
	}

	// "é" is two bytes; cutting inside it must back up to the boundary.
	assert.Equal(t, "caf", Truncate("café", 4))
	assert.Equal(t, "café", Truncate("café", 5))
}
