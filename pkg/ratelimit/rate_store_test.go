package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXRateStore_AllowsWithinBurst(t *testing.T) {
	s := NewXRateStore()
	policy := Policy{RequestsPerMinute: 600, Burst: 3}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := s.Allow(ctx, "actor-1", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed within burst", i)
	}
}

func TestXRateStore_DeniesBeyondBurst(t *testing.T) {
	s := NewXRateStore()
	policy := Policy{RequestsPerMinute: 60, Burst: 2}
	ctx := context.Background()

	ok1, _ := s.Allow(ctx, "actor-2", policy, 1)
	ok2, _ := s.Allow(ctx, "actor-2", policy, 1)
	ok3, _ := s.Allow(ctx, "actor-2", policy, 1)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "third immediate request should exceed the burst of 2")
}

func TestXRateStore_ActorsAreIndependent(t *testing.T) {
	s := NewXRateStore()
	policy := Policy{RequestsPerMinute: 60, Burst: 1}
	ctx := context.Background()

	ok1, _ := s.Allow(ctx, "actor-a", policy, 1)
	ok2, _ := s.Allow(ctx, "actor-b", policy, 1)
	assert.True(t, ok1)
	assert.True(t, ok2, "a fresh actor should not be limited by another actor's usage")
}

func TestXRateStore_ZeroPolicyFallsBackToOne(t *testing.T) {
	s := NewXRateStore()
	ctx := context.Background()

	ok, err := s.Allow(ctx, "actor-zero", Policy{}, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
