package rotation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	t.Run("produces requested length", func(t *testing.T) {
		t.Parallel()
		for _, length := range []int{16, 32, 48, 64} {
			value, err := GenerateSecret(length)
			require.NoError(t, err)
			assert.Len(t, value, length)
		}
	})

	t.Run("rejects lengths below the floor", func(t *testing.T) {
		t.Parallel()
		_, err := GenerateSecret(8)
		assert.Error(t, err)
	})

	t.Run("stays within the charset", func(t *testing.T) {
		t.Parallel()
		value, err := GenerateSecret(64)
		require.NoError(t, err)
		charset := charsLower + charsUpper + charsDigits + charsSymbols
		for _, c := range value {
			assert.Contains(t, charset, string(c))
		}
	})

	t.Run("values differ between calls", func(t *testing.T) {
		t.Parallel()
		a, err := GenerateSecret(32)
		require.NoError(t, err)
		b, err := GenerateSecret(32)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestGeneratePassword(t *testing.T) {
	t.Parallel()

	t.Run("contains every character class", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 20; i++ {
			value, err := GeneratePassword(16)
			require.NoError(t, err)
			assert.True(t, strings.ContainsAny(value, charsLower), "missing lowercase in %q", value)
			assert.True(t, strings.ContainsAny(value, charsUpper), "missing uppercase in %q", value)
			assert.True(t, strings.ContainsAny(value, charsDigits), "missing digit in %q", value)
			assert.True(t, strings.ContainsAny(value, charsSymbols), "missing symbol in %q", value)
		}
	})

	t.Run("rejects lengths below the floor", func(t *testing.T) {
		t.Parallel()
		_, err := GeneratePassword(15)
		assert.Error(t, err)
	})

	t.Run("never emits quote or shell metacharacters", func(t *testing.T) {
		t.Parallel()
		value, err := GeneratePassword(64)
		require.NoError(t, err)
		assert.NotContains(t, value, "'")
		assert.NotContains(t, value, `"`)
		assert.NotContains(t, value, `\`)
		assert.NotContains(t, value, "$")
	})
}
