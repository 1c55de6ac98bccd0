package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureID(t *testing.T) {
	id, err := GenerateSecureID(PrefixConversation, 12)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "conv_"))
	assert.Len(t, id, len("conv_")+12)

	for _, r := range strings.TrimPrefix(id, "conv_") {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z'), "unexpected character %q", r)
	}
}

func TestGenerateSecureIDUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := GenerateSecureID(PrefixMessage, 10)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate ID %s", id)
		seen[id] = struct{}{}
	}
}
