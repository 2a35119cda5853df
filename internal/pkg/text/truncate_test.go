package text

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "anything", Truncate("anything", 0))

	got := Truncate("今天粮价又涨了，大家怎么看", 5)
	assert.Equal(t, "今天粮价又...", got)
	assert.True(t, utf8.ValidString(got))
}
