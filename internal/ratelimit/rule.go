// Package ratelimit implements the sliding-window abuse control that
// gates the public authentication endpoints.  A counter is kept per
// (key type, key value) and every request is checked under each
// configured rule independently.
package ratelimit

import (
	"math"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

// Rule bounds attempts for one key type inside a window.
type Rule struct {
	KeyType     string
	MaxAttempts int
	Window      time.Duration
}

// DefaultRules are the per-endpoint limits: 20/min per IP, 10/min per
// email and 5/min per IP+email pair.
var DefaultRules = []Rule{
	{KeyType: model.KeyTypeIP, MaxAttempts: 20, Window: time.Minute},
	{KeyType: model.KeyTypeEmail, MaxAttempts: 10, Window: time.Minute},
	{KeyType: model.KeyTypeIPEmail, MaxAttempts: 5, Window: time.Minute},
}

// Decision is the outcome of one check-and-increment.  RetryAfter is in
// whole seconds and is positive whenever Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

// Apply runs the check-and-increment algorithm on a counter snapshot and
// returns the counter to persist with the decision.  found is false when
// no row exists yet.  Stores must call it while holding the row
// exclusively (row lock, mutex or Lua script).
//
//  1. no row: attempts=1, allow
//  2. blocked_until > now: deny with the seconds left on the block
//  3. window elapsed: reset to attempts=1, clear block, allow
//  4. attempts+1 <= max: increment, allow
//  5. otherwise: block until the window ends, deny
func Apply(c model.RateLimitCounter, found bool, rule Rule, now time.Time) (model.RateLimitCounter, Decision) {
	if !found {
		c.Attempts = 1
		c.WindowStart = now
		c.BlockedUntil = nil
		return c, Decision{Allowed: true}
	}
	if c.BlockedUntil != nil && c.BlockedUntil.After(now) {
		return c, Decision{RetryAfter: ceilSeconds(c.BlockedUntil.Sub(now))}
	}
	windowEnd := c.WindowStart.Add(rule.Window)
	if !now.Before(windowEnd) {
		c.Attempts = 1
		c.WindowStart = now
		c.BlockedUntil = nil
		return c, Decision{Allowed: true}
	}
	if c.Attempts+1 <= rule.MaxAttempts {
		c.Attempts++
		return c, Decision{Allowed: true}
	}
	c.Attempts++
	c.BlockedUntil = &windowEnd
	return c, Decision{RetryAfter: ceilSeconds(windowEnd.Sub(now))}
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
