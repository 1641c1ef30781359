package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Second)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		allowed, retry, err := lim.Allow(ctx, "ip", now)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Zero(t, retry)
	}

	allowed, retry, err := lim.Allow(ctx, "ip", now.Add(200*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 800*time.Millisecond, retry)

	allowed, _, err = lim.Allow(ctx, "ip", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, allowed, "new window")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	lim := NewMemory(1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	allowed, _, _ := lim.Allow(ctx, Key(ClassLogin, "1.1.1.1"), now)
	assert.True(t, allowed)
	allowed, _, _ = lim.Allow(ctx, Key(ClassLogin, "1.1.1.1"), now)
	assert.False(t, allowed)

	allowed, _, _ = lim.Allow(ctx, Key(ClassLogin, "2.2.2.2"), now)
	assert.True(t, allowed)
	allowed, _, _ = lim.Allow(ctx, Key(ClassGeneral, "1.1.1.1"), now)
	assert.True(t, allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	lim := NewMemory(1, time.Second)
	now := time.Now()

	_, _, _ = lim.Allow(context.Background(), "1.1.1.1", now)
	require.Len(t, lim.entries, 1)

	_, _, _ = lim.Allow(context.Background(), "2.2.2.2", now.Add(2*time.Second))
	assert.Len(t, lim.entries, 1, "expired entries are swept")
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{Limit: 10, Window: time.Minute}.Validate())
	assert.Error(t, Policy{Limit: 0, Window: time.Minute}.Validate())
	assert.Error(t, Policy{Limit: 1}.Validate())
}
