package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/auth-service/internal/model"
)

// mysqlDeadlock is ER_LOCK_DEADLOCK; InnoDB raises it when two sessions
// race to insert the same missing counter row.
const mysqlDeadlock = 1213

// RateLimitRepo persists counters in `rate_limits`.
type RateLimitRepo struct{ DB *sql.DB }

func NewRateLimitRepo(db *sql.DB) *RateLimitRepo { return &RateLimitRepo{DB: db} }

// WithCounter locks the (keyType, keyValue) row, hands its current state
// to fn and writes back what fn returns, all inside one single-row
// transaction.  found is false when the row does not exist yet.  Lost
// insert races are retried a couple of times.
func (r *RateLimitRepo) WithCounter(ctx context.Context, keyType, keyValue string,
	fn func(cur model.RateLimitCounter, found bool) model.RateLimitCounter) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = r.withCounterOnce(ctx, keyType, keyValue, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (r *RateLimitRepo) withCounterOnce(ctx context.Context, keyType, keyValue string,
	fn func(cur model.RateLimitCounter, found bool) model.RateLimitCounter) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cur := model.RateLimitCounter{KeyType: keyType, KeyValue: keyValue}
	var blocked sql.NullTime
	found := true
	err = tx.QueryRowContext(ctx,
		"SELECT attempts, window_start, blocked_until FROM rate_limits WHERE key_type=? AND key_value=? FOR UPDATE",
		keyType, keyValue).Scan(&cur.Attempts, &cur.WindowStart, &blocked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return err
	}
	cur.WindowStart = cur.WindowStart.UTC()
	cur.BlockedUntil = timePtr(blocked)

	next := fn(cur, found)
	if found {
		_, err = tx.ExecContext(ctx,
			"UPDATE rate_limits SET attempts=?, window_start=?, blocked_until=? WHERE key_type=? AND key_value=?",
			next.Attempts, next.WindowStart.UTC(), nullTime(next.BlockedUntil), keyType, keyValue)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO rate_limits (key_type, key_value, attempts, window_start, blocked_until) VALUES (?,?,?,?,?)",
			keyType, keyValue, next.Attempts, next.WindowStart.UTC(), nullTime(next.BlockedUntil))
	}
	if err != nil {
		return fmt.Errorf("write rate limit counter: %w", err)
	}
	return tx.Commit()
}

func retryable(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == mysqlDuplicateEntry || me.Number == mysqlDeadlock)
}

// PurgeStale deletes counters whose window started before cutoff and
// that carry no block reaching past it.
func (r *RateLimitRepo) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM rate_limits WHERE window_start < ? AND (blocked_until IS NULL OR blocked_until < ?)",
		cutoff.UTC(), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
