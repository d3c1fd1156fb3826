package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/ratelimit"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestApplySteps(t *testing.T) {
	rule := ratelimit.Rule{KeyType: model.KeyTypeIP, MaxAttempts: 2, Window: time.Minute}

	c, d := ratelimit.Apply(model.RateLimitCounter{}, false, rule, t0)
	require.True(t, d.Allowed)
	require.Equal(t, 1, c.Attempts)
	require.Equal(t, t0, c.WindowStart)

	c, d = ratelimit.Apply(c, true, rule, t0.Add(10*time.Second))
	require.True(t, d.Allowed)
	require.Equal(t, 2, c.Attempts)

	c, d = ratelimit.Apply(c, true, rule, t0.Add(20*time.Second))
	require.False(t, d.Allowed)
	require.Equal(t, 40, d.RetryAfter)
	require.NotNil(t, c.BlockedUntil)
	require.Equal(t, t0.Add(time.Minute), *c.BlockedUntil)

	c, d = ratelimit.Apply(c, true, rule, t0.Add(59500*time.Millisecond))
	require.False(t, d.Allowed)
	require.Equal(t, 1, d.RetryAfter)

	c, d = ratelimit.Apply(c, true, rule, t0.Add(time.Minute))
	require.True(t, d.Allowed)
	require.Equal(t, 1, c.Attempts)
	require.Nil(t, c.BlockedUntil)
	require.Equal(t, t0.Add(time.Minute), c.WindowStart)
}

func TestApplyBlockOutlivesWindow(t *testing.T) {
	rule := ratelimit.Rule{KeyType: model.KeyTypeEmail, MaxAttempts: 5, Window: time.Minute}
	until := t0.Add(5 * time.Minute)
	c := model.RateLimitCounter{Attempts: 9, WindowStart: t0, BlockedUntil: &until}

	_, d := ratelimit.Apply(c, true, rule, t0.Add(2*time.Minute))
	require.False(t, d.Allowed)
	require.Equal(t, 180, d.RetryAfter)
}
