package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
)

// HeaderAPIKey carries machine credentials.
const HeaderAPIKey = "X-API-Key"

// KeyValidator resolves raw API keys (service.APIKeyService).
type KeyValidator interface {
	Validate(ctx context.Context, raw string) (model.APIKey, error)
}

// keyLimiters holds one token bucket per API key that has a rate_limit.
// Idle buckets fall out of the cache after an hour.
type keyLimiters struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func (k *keyLimiters) get(key model.APIKey) *rate.Limiter {
	perMinute := *key.RateLimit
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.c.Get(key.ID); ok {
		l := v.(*rate.Limiter)
		if l.Burst() == perMinute {
			k.c.SetDefault(key.ID, l)
			return l
		}
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	k.c.SetDefault(key.ID, l)
	return l
}

// APIKeyAuth authenticates X-API-Key and enforces the key's own
// requests-per-minute limit when it has one.
func APIKeyAuth(keys KeyValidator, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	limiters := &keyLimiters{c: gocache.New(time.Hour, 10*time.Minute)}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(HeaderAPIKey)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing API key"})
			}
			key, err := keys.Validate(c.Request().Context(), raw)
			if err != nil {
				if errors.Is(err, service.ErrInvalidToken) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid API key"})
				}
				log.Error("api key validation failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if key.RateLimit != nil && *key.RateLimit > 0 {
				l := limiters.get(key)
				if r := l.Reserve(); r.Delay() > 0 {
					retry := int(r.Delay().Seconds() + 0.999)
					r.Cancel()
					c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
					return c.JSON(http.StatusTooManyRequests, echo.Map{
						"error":       "API key rate limit exceeded",
						"retry_after": retry,
					})
				}
			}
			c.Set(CtxAPIKey, key)
			return next(c)
		}
	}
}
