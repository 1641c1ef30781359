package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken(t *testing.T) {
	h := HashToken("token")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("token"))
	assert.NotEqual(t, h, HashToken("token2"))

	assert.True(t, EqualHashes(h, HashToken("token")))
	assert.False(t, EqualHashes(h, HashToken("other")))
}
