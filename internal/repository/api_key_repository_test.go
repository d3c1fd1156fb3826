package repository_test

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

var apiKeyCols = []string{"id", "name", "key_prefix", "key_hash", "created_by", "expires_at", "revoked_at", "usage_count", "last_used_at", "rate_limit", "created_at"}

// utcInstant matches a time argument equal to want and stored as UTC.
type utcInstant struct{ want time.Time }

func (u utcInstant) Match(v driver.Value) bool {
	got, ok := v.(time.Time)
	return ok && got.Equal(u.want) && got.Location() == time.UTC
}

func TestAPIKeyGetActiveByHashSkipsRevoked(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAPIKeyRepo(db)
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	expires := created.Add(30 * 24 * time.Hour)
	q := regexp.QuoteMeta("FROM api_keys WHERE key_hash=? AND revoked_at IS NULL LIMIT 1")

	mock.ExpectQuery(q).WithArgs("h-live").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("k-1", "ci", "ask_live_", "h-live", "u-1", expires, nil, int64(7), nil, int64(60), created))
	mock.ExpectQuery(q).WithArgs("h-revoked").WillReturnRows(sqlmock.NewRows(apiKeyCols))

	k, err := repo.GetActiveByHash(context.Background(), "h-live")
	require.NoError(t, err)
	require.Equal(t, "k-1", k.ID)
	require.Equal(t, int64(7), k.UsageCount)
	require.Equal(t, 60, *k.RateLimit)
	require.True(t, k.ExpiresAt.Equal(expires))
	require.Nil(t, k.RevokedAt)
	require.Nil(t, k.LastUsedAt)

	_, err = repo.GetActiveByHash(context.Background(), "h-revoked")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAPIKeyRecordUsageIncrementsInPlace(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAPIKeyRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET usage_count = usage_count + 1, last_used_at=? WHERE id=?")).
		WithArgs(around{time.Now()}, "k-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordUsage(context.Background(), "k-1"))
}

func TestAPIKeySetExpiryStoresUTC(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAPIKeyRepo(db)
	at := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET expires_at=? WHERE id=?")).
		WithArgs(utcInstant{at}, "k-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetExpiry(context.Background(), "k-1", at))
}

func TestAPIKeyRevokeKeepsFirstTimestamp(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAPIKeyRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL")).
		WithArgs(around{time.Now()}, "k-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "k-1"))
}

func TestAPIKeyCreateDefaultsCounters(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAPIKeyRepo(db)
	limit := 100

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_keys (id, name, key_prefix, key_hash, created_by, expires_at, rate_limit, usage_count, created_at) VALUES (?,?,?,?,?,?,?,0,?)")).
		WithArgs("k-1", "ci", "ask_live_", "h", "u-1", nil, int64(limit), around{time.Now()}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	k, err := repo.Create(context.Background(), model.APIKey{
		ID: "k-1", Name: "ci", KeyPrefix: "ask_live_", KeyHash: "h", CreatedBy: "u-1", RateLimit: &limit,
	})
	require.NoError(t, err)
	require.False(t, k.CreatedAt.IsZero())
}

func TestAuditInsertEncodesDetails(t *testing.T) {
	db, mock := newMock(t)
	repo := repository.NewAuditRepo(db)
	user := "u-1"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log (id, user_id, event, ip_address, user_agent, details, created_at) VALUES (?,?,?,?,?,?,?)")).
		WithArgs(sqlmock.AnyArg(), "u-1", model.AuditRoleChange, nil, nil,
			`{"changed_by":"admin-1","new_role":"admin","old_role":"user"}`, around{time.Now()}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs(sqlmock.AnyArg(), nil, model.AuditAccountActivated, "10.0.0.1", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), model.AuditEvent{
		UserID:  &user,
		Event:   model.AuditRoleChange,
		Details: map[string]any{"old_role": "user", "new_role": "admin", "changed_by": "admin-1"},
	}))
	ip := "10.0.0.1"
	require.NoError(t, repo.Insert(context.Background(), model.AuditEvent{Event: model.AuditAccountActivated, IPAddress: &ip}))
}
