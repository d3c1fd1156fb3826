package ratelimit

import (
	"context"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

// CounterRows is the row-locking primitive offered by the relational
// store (repository.RateLimitRepo).
type CounterRows interface {
	WithCounter(ctx context.Context, keyType, keyValue string,
		fn func(cur model.RateLimitCounter, found bool) model.RateLimitCounter) error
}

// SQLStore runs Apply under the relational store's row lock.
type SQLStore struct{ rows CounterRows }

func NewSQLStore(rows CounterRows) *SQLStore { return &SQLStore{rows: rows} }

func (s *SQLStore) Hit(ctx context.Context, rule Rule, keyValue string, now time.Time) (Decision, error) {
	var d Decision
	err := s.rows.WithCounter(ctx, rule.KeyType, keyValue, func(cur model.RateLimitCounter, found bool) model.RateLimitCounter {
		var next model.RateLimitCounter
		next, d = Apply(cur, found, rule, now)
		return next
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}
