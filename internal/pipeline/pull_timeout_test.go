package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPullTimeout(t *testing.T) {
	policy := NewPullTimeoutPolicy(5*time.Minute, 30*time.Minute)

	tests := []struct {
		maxExecMinutes int
		want           int
	}{
		{1, 5},
		{10, 5},
		{50, 7},
		{200, 13},
		{600, 18},
		{1800, 23},
		{6000, 28},
		{600000, 30},
	}
	for _, tt := range tests {
		got := policy.Timeout(time.Duration(tt.maxExecMinutes) * time.Minute)
		assert.Equal(t, time.Duration(tt.want)*time.Minute, got, "maxExecMinutes=%d", tt.maxExecMinutes)
	}
}

func TestPullTimeoutIsMonotonic(t *testing.T) {
	policy := NewPullTimeoutPolicy(5*time.Minute, 30*time.Minute)
	previous := time.Duration(0)
	for m := 1; m <= 100000; m *= 3 {
		got := policy.Timeout(time.Duration(m) * time.Minute)
		assert.GreaterOrEqual(t, got, previous)
		assert.GreaterOrEqual(t, got, 5*time.Minute)
		assert.LessOrEqual(t, got, 30*time.Minute)
		previous = got
	}
}

func TestPullTimeoutInvertedBounds(t *testing.T) {
	policy := NewPullTimeoutPolicy(30*time.Minute, 5*time.Minute)
	assert.Equal(t, 5*time.Minute, policy.Timeout(50*time.Minute))
	assert.Equal(t, 5*time.Minute, policy.Timeout(0))
}

func TestPullTimeoutIsMemoized(t *testing.T) {
	policy := NewPullTimeoutPolicy(5*time.Minute, 30*time.Minute)
	first := policy.Timeout(600 * time.Minute)
	v, ok := policy.cache.Load(int64(600))
	assert.True(t, ok)
	assert.Equal(t, first, v)
	assert.Equal(t, first, policy.Timeout(600*time.Minute))
}
