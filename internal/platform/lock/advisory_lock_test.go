package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLockID(t *testing.T) {
	t.Run("同じ入力は同じID", func(t *testing.T) {
		assert.Equal(t, GenerateLockID("conversation", "abc"), GenerateLockID("conversation", "abc"))
	})

	t.Run("異なるセッションは異なるID", func(t *testing.T) {
		assert.NotEqual(t, GenerateLockID("conversation", "abc"), GenerateLockID("conversation", "abd"))
	})

	t.Run("区切り位置が異なれば異なるID", func(t *testing.T) {
		assert.NotEqual(t, GenerateLockID("ab", "c"), GenerateLockID("a", "bc"))
	})
}
