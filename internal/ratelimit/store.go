package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/iliyamo/auth-service/internal/model"
)

// CounterStore persists counters.  Hit must perform Apply atomically for
// the single (rule.KeyType, keyValue) row.
type CounterStore interface {
	Hit(ctx context.Context, rule Rule, keyValue string, now time.Time) (Decision, error)
}

// MemoryStore keeps counters in process memory.  It suits a single
// instance and tests; counters vanish one window after their last reset.
type MemoryStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(10*time.Minute, time.Minute)}
}

func (m *MemoryStore) Hit(_ context.Context, rule Rule, keyValue string, now time.Time) (Decision, error) {
	key := rule.KeyType + ":" + keyValue
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur model.RateLimitCounter
	v, found := m.c.Get(key)
	if found {
		cur = v.(model.RateLimitCounter)
	} else {
		cur = model.RateLimitCounter{KeyType: rule.KeyType, KeyValue: keyValue}
	}
	next, d := Apply(cur, found, rule, now)
	// keep the row at least until its window (and any block) has passed
	ttl := next.WindowStart.Add(2 * rule.Window).Sub(now)
	if ttl < rule.Window {
		ttl = rule.Window
	}
	m.c.Set(key, next, ttl)
	return d, nil
}
