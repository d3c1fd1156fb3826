package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

const apiKeyColumns = "id,name,key_prefix,key_hash,created_by,expires_at,revoked_at,usage_count,last_used_at,rate_limit,created_at"

// APIKeyRepo persists machine credentials in `api_keys`.
type APIKeyRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo { return &APIKeyRepo{DB: db, now: utcNow} }

// Create inserts k.  CreatedAt is filled in when zero.
func (r *APIKeyRepo) Create(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = r.now()
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO api_keys (id, name, key_prefix, key_hash, created_by, expires_at, rate_limit, usage_count, created_at) VALUES (?,?,?,?,?,?,?,0,?)",
		k.ID, k.Name, k.KeyPrefix, k.KeyHash, k.CreatedBy, nullTime(k.ExpiresAt), nullInt(k.RateLimit), k.CreatedAt)
	if err != nil {
		return model.APIKey{}, err
	}
	return k, nil
}

// GetActiveByHash returns a non-revoked key by hash.  Expiry is not
// filtered here: rotation grace logic needs to see soft-expired keys.
func (r *APIKeyRepo) GetActiveByHash(ctx context.Context, hash string) (model.APIKey, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash=? AND revoked_at IS NULL LIMIT 1", hash)
	return scanAPIKey(row)
}

// GetByID fetches any key, revoked or not.
func (r *APIKeyRepo) GetByID(ctx context.Context, id string) (model.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+apiKeyColumns+" FROM api_keys WHERE id=? LIMIT 1", id)
	return scanAPIKey(row)
}

// List returns every key, newest first.
func (r *APIKeyRepo) List(ctx context.Context) ([]model.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RecordUsage increments usage_count and stamps last_used_at in one
// statement, so concurrent validations never lose an increment.
func (r *APIKeyRepo) RecordUsage(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE api_keys SET usage_count = usage_count + 1, last_used_at=? WHERE id=?", r.now(), id)
	return err
}

// SetExpiry moves the expiry of a key (used for the rotation grace window).
func (r *APIKeyRepo) SetExpiry(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE api_keys SET expires_at=? WHERE id=?", at.UTC(), id)
	return err
}

// Revoke stamps revoked_at.  Revoking an already revoked key keeps the
// original timestamp.
func (r *APIKeyRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL", r.now(), id)
	return err
}

func scanAPIKey(s rowScanner) (model.APIKey, error) {
	var (
		k                          model.APIKey
		expires, revoked, lastUsed sql.NullTime
		rateLimit                  sql.NullInt64
	)
	err := s.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.CreatedBy, &expires, &revoked,
		&k.UsageCount, &lastUsed, &rateLimit, &k.CreatedAt)
	if err != nil {
		return model.APIKey{}, notFound(err)
	}
	k.ExpiresAt = timePtr(expires)
	k.RevokedAt = timePtr(revoked)
	k.LastUsedAt = timePtr(lastUsed)
	k.RateLimit = intPtr(rateLimit)
	k.CreatedAt = k.CreatedAt.UTC()
	return k, nil
}
