package config

import (
	"time"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/ratelimit"
)

// RateLimitConfig controls the admission limiter on the auth endpoints.
type RateLimitConfig struct {
	Enabled  bool
	Backend  string // mysql | redis | memory
	FailOpen bool
	Prefix   string // redis key prefix
	Rules    []ratelimit.Rule
}

// LoadRateLimitConfig reads RATE_LIMIT_*.  Each rule takes its limit from
// RATE_LIMIT_<TYPE>_MAX and its window from RATE_LIMIT_<TYPE>_WINDOW.
func LoadRateLimitConfig() RateLimitConfig {
	rule := func(keyType, env string, max int) ratelimit.Rule {
		r := ratelimit.Rule{
			KeyType:     keyType,
			MaxAttempts: envInt("RATE_LIMIT_"+env+"_MAX", max),
			Window:      envDur("RATE_LIMIT_"+env+"_WINDOW", time.Minute),
		}
		if r.MaxAttempts < 1 {
			r.MaxAttempts = 1
		}
		if r.Window < time.Second {
			r.Window = time.Second
		}
		return r
	}
	return RateLimitConfig{
		Enabled:  envBool("RATE_LIMIT_ENABLED", true),
		Backend:  envStr("RATE_LIMIT_BACKEND", "mysql"),
		FailOpen: envBool("RATE_LIMIT_FAIL_OPEN", true),
		Prefix:   envStr("RATE_LIMIT_PREFIX", "rl"),
		Rules: []ratelimit.Rule{
			rule(model.KeyTypeIP, "IP", 20),
			rule(model.KeyTypeEmail, "EMAIL", 10),
			rule(model.KeyTypeIPEmail, "IP_EMAIL", 5),
		},
	}
}
