package text

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Run("short strings are untouched", func(t *testing.T) {
		assert.Equal(t, "abc", Truncate("abc", 3))
		assert.Equal(t, "abc", Truncate("abc", 0))
	})
	t.Run("ascii", func(t *testing.T) {
		assert.Equal(t, "ab...", Truncate("abcdef", 2))
	})
	t.Run("multibyte boundary", func(t *testing.T) {
		// "风控" 每个字 3 字节，截到 4 字节时退回到第一个字之后。
		out := Truncate("风控拒绝", 4)
		assert.Equal(t, "风...", out)
		assert.True(t, utf8.ValidString(out))
	})
}
