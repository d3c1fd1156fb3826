package model

import "time"

// APIKey is a machine credential row from `api_keys`.  KeyPrefix is the
// cleartext head of the raw key kept for display; KeyHash is the SHA-256
// of the full raw key.  Keys are not owned by their creator for deletion
// purposes: removing the creator leaves the key manageable.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	CreatedBy  string     `json:"created_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RateLimit  *int       `json:"rate_limit,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the key has an expiry at or before now.  A nil
// expiry never expires.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
