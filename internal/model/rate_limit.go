package model

import "time"

// Rate limit key types.  Each sensitive request is counted under all
// three independently.
const (
	KeyTypeIP      = "ip"
	KeyTypeEmail   = "email"
	KeyTypeIPEmail = "ip_email"
)

// RateLimitCounter mirrors a `rate_limits` row keyed by (KeyType, KeyValue).
// Attempts is only meaningful inside [WindowStart, WindowStart+window).
type RateLimitCounter struct {
	KeyType      string
	KeyValue     string
	Attempts     int
	WindowStart  time.Time
	BlockedUntil *time.Time
}
