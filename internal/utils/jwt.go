package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// Access token verification failures.  Callers should not leak which one
// occurred to the client; they exist for logging and tests.
var (
	ErrTokenExpired      = errors.New("access token expired")
	ErrTokenMalformed    = errors.New("access token malformed")
	ErrTokenBadSignature = errors.New("access token signature invalid")
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims is the payload embedded in every access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens with a symmetric secret.  It is
// stateless: validity depends only on the signature and the embedded exp,
// so an issued token cannot be revoked before it expires.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
}

// NewCodec builds a Codec for one of HS256, HS384 or HS512.
func NewCodec(secret, alg string) (*Codec, error) {
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	return &Codec{secret: []byte(secret), method: m}, nil
}

// Issue builds and signs a JWT for a subject.  A ttl <= 0 yields a token
// that is already expired.
func (c *Codec) Issue(subject, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Verify parses a token, checks the signature against the configured
// algorithm only, and validates exp.  Failures map onto ErrTokenExpired,
// ErrTokenBadSignature or ErrTokenMalformed.
func (c *Codec) Verify(raw string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	switch {
	case err == nil && tok.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenBadSignature
	default:
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return &claims, nil
}
