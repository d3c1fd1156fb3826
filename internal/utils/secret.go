package utils // package utils provides token, secret and password helpers

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for stored secrets
	"encoding/base64"
	"encoding/hex"
)

// SecretBytes is the entropy of every opaque secret handed to clients
// (refresh tokens, verification/reset tokens, API key bodies).
const SecretBytes = 32

// NewOpaqueSecret returns a URL-safe random string carrying SecretBytes of
// entropy (43 characters, no padding).  It never contains user data.
func NewOpaqueSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the SHA‑256 hash of a raw secret as a hex string.
// Only this value is persisted, so a leaked table cannot be replayed.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
