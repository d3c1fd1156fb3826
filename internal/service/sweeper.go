package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/model"
)

// CounterPurger drops rate-limit counters nobody has touched for a while.
// repository.RateLimitRepo implements it; Redis and memory counters expire
// on their own.
type CounterPurger interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes rows that can no longer validate.  It runs out of band
// on its own ticker, never inline with a request.
type Sweeper struct {
	sessions  SessionStore
	counters  CounterPurger
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewSweeper builds a Sweeper; counters may be nil.
func NewSweeper(sessions SessionStore, counters CounterPurger, interval, retention time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{sessions: sessions, counters: counters, interval: interval, retention: retention, log: log, now: utcNow}
}

// RunOnce performs a single purge.
func (s *Sweeper) RunOnce(ctx context.Context) (model.PurgeStats, error) {
	stats, err := s.sessions.PurgeExpired(ctx, s.retention)
	if err != nil {
		return model.PurgeStats{}, err
	}
	if s.counters != nil {
		// a day is far longer than any rule window
		n, err := s.counters.PurgeStale(ctx, s.now().Add(-24*time.Hour))
		if err != nil {
			return stats, err
		}
		stats.RateLimitCounters = n
	}
	s.log.Info("purged expired rows",
		zap.Int64("refresh_tokens", stats.RefreshTokens),
		zap.Int64("verification_tokens", stats.VerificationTokens),
		zap.Int64("reset_tokens", stats.ResetTokens),
		zap.Int64("rate_limit_counters", stats.RateLimitCounters))
	return stats, nil
}

// Run purges every interval until ctx is cancelled.  Failures are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("purge failed", zap.Error(err))
			}
		}
	}
}
