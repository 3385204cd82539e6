package idgen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesLengthHexID(t *testing.T) {
	id, err := New(nil)
	require.NoError(t, err)
	assert.Len(t, id, Length)
	for _, r := range id {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}

func TestNewRetriesOnCollision(t *testing.T) {
	seen := map[string]bool{}
	calls := 0
	exists := func(id string) bool {
		calls++
		if len(seen) < 2 {
			seen[id] = true
			return true
		}
		return false
	}

	id, err := New(exists)
	require.NoError(t, err)
	assert.False(t, seen[id])
	assert.GreaterOrEqual(t, calls, 3)
}

func TestNewExhaustsAttempts(t *testing.T) {
	_, err := New(func(id string) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d attempts", maxAttempts))
}
