package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

// TokenRepo persists refresh tokens and the single-use verification and
// reset tokens.  Every mutation is a single-row conditional statement so
// concurrent callers cannot interleave a read-modify-write.
type TokenRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db, now: utcNow} }

// ----- refresh tokens -----

// CreateRefreshToken inserts a refresh token hash row.
func (r *TokenRepo) CreateRefreshToken(ctx context.Context, t model.RefreshToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, user_agent, ip_address, created_at) VALUES (?,?,?,?,?,?,?)",
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), nullString(t.UserAgent), nullString(t.IPAddress), created)
	return err
}

// FindLiveRefreshToken returns the row for hash only if it is neither
// revoked nor expired.
func (r *TokenRepo) FindLiveRefreshToken(ctx context.Context, hash string) (model.RefreshToken, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked_at, user_agent, ip_address, created_at
		   FROM refresh_tokens
		  WHERE token_hash=? AND revoked_at IS NULL AND expires_at > ?
		  LIMIT 1`, hash, r.now())
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
		ua, ip    sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &revokedAt, &ua, &ip, &t.CreatedAt); err != nil {
		return model.RefreshToken{}, notFound(err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.RevokedAt = timePtr(revokedAt)
	t.UserAgent = strPtr(ua)
	t.IPAddress = strPtr(ip)
	return t, nil
}

// RevokeRefreshToken marks a token as revoked.  It reports true only for
// the call that actually flipped revoked_at; repeating it is harmless.
func (r *TokenRepo) RevokeRefreshToken(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL",
		r.now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllForUser revokes all user's active tokens and returns how many
// were revoked by this call.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL",
		r.now(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListLiveSessions lists the user's non-revoked, non-expired sessions,
// newest first.
func (r *TokenRepo) ListLiveSessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, created_at, user_agent, ip_address
		   FROM refresh_tokens
		  WHERE user_id=? AND revoked_at IS NULL AND expires_at > ?
		  ORDER BY created_at DESC`, userID, r.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		var (
			s      model.Session
			ua, ip sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.CreatedAt, &ua, &ip); err != nil {
			return nil, err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UserAgent = strPtr(ua)
		s.IPAddress = strPtr(ip)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----- single-use tokens -----

func oneTimeTable(p model.TokenPurpose) (string, error) {
	switch p {
	case model.PurposeVerification:
		return "email_verification_tokens", nil
	case model.PurposeReset:
		return "password_reset_tokens", nil
	}
	return "", fmt.Errorf("unknown token purpose %q", p)
}

// CreateOneTimeToken inserts a verification or reset token.
func (r *TokenRepo) CreateOneTimeToken(ctx context.Context, p model.TokenPurpose, t model.OneTimeToken) error {
	table, err := oneTimeTable(p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO "+table+" (id, user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?,?)",
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), r.now())
	return err
}

// FindLiveOneTimeToken looks a token up by hash; only unused, unexpired
// rows are returned.
func (r *TokenRepo) FindLiveOneTimeToken(ctx context.Context, p model.TokenPurpose, hash string) (model.OneTimeToken, error) {
	table, err := oneTimeTable(p)
	if err != nil {
		return model.OneTimeToken{}, err
	}
	row := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, used_at, created_at FROM "+table+
			" WHERE token_hash=? AND used_at IS NULL AND expires_at > ? LIMIT 1", hash, r.now())
	var (
		t      model.OneTimeToken
		usedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt); err != nil {
		return model.OneTimeToken{}, notFound(err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UsedAt = timePtr(usedAt)
	return t, nil
}

// MarkOneTimeTokenUsed consumes a token.  Only the first caller on a live
// token gets true.
func (r *TokenRepo) MarkOneTimeTokenUsed(ctx context.Context, p model.TokenPurpose, id string) (bool, error) {
	table, err := oneTimeTable(p)
	if err != nil {
		return false, err
	}
	now := r.now()
	res, err := r.DB.ExecContext(ctx,
		"UPDATE "+table+" SET used_at=? WHERE id=? AND used_at IS NULL AND expires_at > ?", now, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ----- maintenance -----

// PurgeExpired deletes rows that can no longer validate: expired refresh
// tokens, refresh tokens revoked more than retention ago, and single-use
// tokens that are expired or were used more than retention ago.  Each
// statement stands alone; there is no enclosing transaction.
func (r *TokenRepo) PurgeExpired(ctx context.Context, retention time.Duration) (model.PurgeStats, error) {
	now := r.now()
	cutoff := now.Add(-retention)
	var st model.PurgeStats
	var err error
	if st.RefreshTokens, err = r.deleteWhere(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ? OR (revoked_at IS NOT NULL AND revoked_at <= ?)", now, cutoff); err != nil {
		return st, fmt.Errorf("purge refresh_tokens: %w", err)
	}
	if st.VerificationTokens, err = r.deleteWhere(ctx,
		"DELETE FROM email_verification_tokens WHERE expires_at <= ? OR (used_at IS NOT NULL AND used_at <= ?)", now, cutoff); err != nil {
		return st, fmt.Errorf("purge email_verification_tokens: %w", err)
	}
	if st.ResetTokens, err = r.deleteWhere(ctx,
		"DELETE FROM password_reset_tokens WHERE expires_at <= ? OR (used_at IS NOT NULL AND used_at <= ?)", now, cutoff); err != nil {
		return st, fmt.Errorf("purge password_reset_tokens: %w", err)
	}
	return st, nil
}

func (r *TokenRepo) deleteWhere(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
