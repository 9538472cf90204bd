package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcd", 2))
	// "封板" 每个字 3 字节，截到 4 字节时退回到字符边界
	assert.Equal(t, "封...", Truncate("封板", 4))
}
