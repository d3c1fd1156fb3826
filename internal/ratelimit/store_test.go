package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/ratelimit"
)

// exerciseStore checks the shared store contract: max attempts pass, the
// next one is denied with a positive retry, and a new window admits again.
func exerciseStore(t *testing.T, s ratelimit.CounterStore) {
	t.Helper()
	ctx := context.Background()
	rule := ratelimit.Rule{KeyType: model.KeyTypeIP, MaxAttempts: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := s.Hit(ctx, rule, "10.0.0.1", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
	}
	d, err := s.Hit(ctx, rule, "10.0.0.1", t0.Add(5*time.Second))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 55, d.RetryAfter)

	d, err = s.Hit(ctx, rule, "10.0.0.2", t0.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, d.Allowed, "other keys are independent")

	d, err = s.Hit(ctx, rule, "10.0.0.1", t0.Add(61*time.Second))
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, ratelimit.NewMemoryStore())
}

type memRows struct {
	rows map[string]model.RateLimitCounter
}

func (m *memRows) WithCounter(_ context.Context, keyType, keyValue string,
	fn func(cur model.RateLimitCounter, found bool) model.RateLimitCounter) error {
	k := keyType + "|" + keyValue
	cur, found := m.rows[k]
	if !found {
		cur = model.RateLimitCounter{KeyType: keyType, KeyValue: keyValue}
	}
	m.rows[k] = fn(cur, found)
	return nil
}

func TestSQLStore(t *testing.T) {
	rows := &memRows{rows: map[string]model.RateLimitCounter{}}
	exerciseStore(t, ratelimit.NewSQLStore(rows))

	c := rows.rows[model.KeyTypeIP+"|10.0.0.1"]
	require.Equal(t, 1, c.Attempts)
	require.Nil(t, c.BlockedUntil)
}
