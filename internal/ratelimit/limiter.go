package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
)

// Limiter checks a request against every rule in order.  The first denial
// wins.  When the store fails, FailOpen decides: true lets the request
// through and logs, false rejects with service.ErrStoreUnavailable.
type Limiter struct {
	store    CounterStore
	rules    []Rule
	failOpen bool
	log      *zap.Logger
	now      func() time.Time
}

// NewLimiter builds a Limiter.  A nil rules slice uses DefaultRules.
func NewLimiter(store CounterStore, rules []Rule, failOpen bool, log *zap.Logger) *Limiter {
	if rules == nil {
		rules = DefaultRules
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, rules: rules, failOpen: failOpen, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// FailOpen reports the configured store-failure policy.
func (l *Limiter) FailOpen() bool { return l.failOpen }

// Check counts one attempt from ip (and email, when known) under each
// rule.  It returns nil when admitted, a *service.RateLimitedError when
// denied, or an error wrapping service.ErrStoreUnavailable when the store
// failed and the limiter fails closed.
func (l *Limiter) Check(ctx context.Context, ip, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	now := l.now()
	for _, rule := range l.rules {
		value, ok := keyValue(rule.KeyType, ip, email)
		if !ok {
			continue
		}
		d, err := l.store.Hit(ctx, rule, value, now)
		if err != nil {
			metrics.RecordRateLimit(rule.KeyType, "store_error")
			if l.failOpen {
				l.log.Error("rate limit store failed, allowing request",
					zap.String("key_type", rule.KeyType), zap.Error(err))
				return nil
			}
			l.log.Error("rate limit store failed, rejecting request",
				zap.String("key_type", rule.KeyType), zap.Error(err))
			return fmt.Errorf("%w: %v", service.ErrStoreUnavailable, err)
		}
		if !d.Allowed {
			metrics.RecordRateLimit(rule.KeyType, "denied")
			return &service.RateLimitedError{KeyType: rule.KeyType, RetryAfter: d.RetryAfter}
		}
		metrics.RecordRateLimit(rule.KeyType, "allowed")
	}
	return nil
}

func keyValue(keyType, ip, email string) (string, bool) {
	switch keyType {
	case model.KeyTypeIP:
		if ip == "" {
			ip = "unknown"
		}
		return ip, true
	case model.KeyTypeEmail:
		return email, email != ""
	case model.KeyTypeIPEmail:
		if email == "" {
			return "", false
		}
		if ip == "" {
			ip = "unknown"
		}
		return ip + ":" + email, true
	}
	return "", false
}
