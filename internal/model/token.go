package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  One row
// is one logical session.  The plain token is never stored; only its
// SHA‑256 hex digest.
//
// Fields:
//
//	ID        – UUID primary key.
//	UserID    – owner of the token (cascade delete with the user).
//	TokenHash – SHA‑256 hex digest of the raw token value.
//	ExpiresAt – expiration timestamp of the token.
//	RevokedAt – when the token was revoked (nil while live).
//	UserAgent – User-Agent of the client that opened the session.
//	IPAddress – client IP that opened the session.
//	CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        string     // refresh_tokens.id
	UserID    string     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	UserAgent *string    // refresh_tokens.user_agent (nullable)
	IPAddress *string    // refresh_tokens.ip_address (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}

// Live reports whether the token can still be presented at instant now.
func (t RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Session is the public projection of a live refresh token.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserAgent *string   `json:"user_agent,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
}

// TokenPurpose selects the table backing a single-use token.
type TokenPurpose string

const (
	PurposeVerification TokenPurpose = "verification"
	PurposeReset        TokenPurpose = "reset"
)

// OneTimeToken is a single-use secret (email verification or password
// reset).  It is valid only while UsedAt is nil and ExpiresAt is in the
// future.
type OneTimeToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Live reports whether the token can still be consumed at instant now.
func (t OneTimeToken) Live(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// PurgeStats reports how many rows each table lost in a sweep.
type PurgeStats struct {
	RefreshTokens      int64 `json:"refresh_tokens"`
	VerificationTokens int64 `json:"verification_tokens"`
	ResetTokens        int64 `json:"reset_tokens"`
	RateLimitCounters  int64 `json:"rate_limit_counters"`
}
