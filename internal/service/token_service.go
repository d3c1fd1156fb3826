package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// TokenPair is what a successful login or refresh hands to the client.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionMeta is the client metadata recorded on a refresh token and
// carried forward through every rotation of that session.
type SessionMeta struct {
	UserAgent string
	IP        string
}

// TokenService issues, rotates and revokes token pairs.
type TokenService struct {
	codec      AccessCodec
	sessions   SessionStore
	users      UserStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(codec AccessCodec, sessions SessionStore, users UserStore, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		codec:      codec,
		sessions:   sessions,
		users:      users,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        utcNow,
	}
}

// IssuePair signs an access token and persists the hash of a fresh
// refresh secret.  The raw secret leaves this function only in the
// returned pair.
func (s *TokenService) IssuePair(ctx context.Context, userID, role string, meta SessionMeta) (TokenPair, error) {
	access, err := s.codec.Issue(userID, role, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	raw, err := utils.NewOpaqueSecret()
	if err != nil {
		return TokenPair{}, err
	}
	now := s.now()
	rt := model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: utils.HashSecret(raw),
		ExpiresAt: now.Add(s.refreshTTL),
		UserAgent: optional(meta.UserAgent),
		IPAddress: optional(meta.IP),
		CreatedAt: now,
	}
	if err := s.sessions.CreateRefreshToken(ctx, rt); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	metrics.RecordToken("issued")
	return TokenPair{AccessToken: access.Token, RefreshToken: raw, TokenType: "bearer", ExpiresAt: access.Exp}, nil
}

// Rotate exchanges a live refresh secret for a new pair.  The presented
// token is revoked with a conditional update, so of several concurrent
// rotations of the same secret exactly one succeeds; the others, and any
// later replay, get ErrInvalidToken.  A deactivated owner also yields
// ErrInvalidToken.  Once the revoke is attempted, cancellation of ctx no
// longer interrupts the rotation.
func (s *TokenService) Rotate(ctx context.Context, rawRefresh string) (TokenPair, error) {
	if rawRefresh == "" {
		return TokenPair{}, ErrInvalidToken
	}
	rt, err := s.sessions.FindLiveRefreshToken(ctx, utils.HashSecret(rawRefresh))
	if err != nil {
		return TokenPair{}, s.rejectRotation(err)
	}
	u, err := s.users.GetByID(ctx, rt.UserID)
	if err != nil {
		return TokenPair{}, s.rejectRotation(err)
	}
	if !u.IsActive {
		metrics.RecordToken("rotation_rejected")
		return TokenPair{}, ErrInvalidToken
	}
	// Past this point the rotation either completes or never starts: a
	// caller that gives up must not leave the old token revoked and no
	// successor stored.
	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}
	ctx = context.WithoutCancel(ctx)
	won, err := s.sessions.RevokeRefreshToken(ctx, rt.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !won {
		metrics.RecordToken("rotation_rejected")
		return TokenPair{}, ErrInvalidToken
	}
	pair, err := s.IssuePair(ctx, u.ID, u.Role, SessionMeta{UserAgent: deref(rt.UserAgent), IP: deref(rt.IPAddress)})
	if err != nil {
		return TokenPair{}, err
	}
	metrics.RecordToken("rotated")
	return pair, nil
}

func (s *TokenService) rejectRotation(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		metrics.RecordToken("rotation_rejected")
		return ErrInvalidToken
	}
	return err
}

// RevokeOne revokes the session identified by raw.  When expectedOwner is
// non-empty the token must belong to that user.  Revoking is idempotent
// at the store level; an unknown or already dead secret is
// ErrInvalidToken.
func (s *TokenService) RevokeOne(ctx context.Context, raw, expectedOwner string) error {
	if raw == "" {
		return ErrInvalidToken
	}
	rt, err := s.sessions.FindLiveRefreshToken(ctx, utils.HashSecret(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if expectedOwner != "" && rt.UserID != expectedOwner {
		return ErrNotOwner
	}
	revoked, err := s.sessions.RevokeRefreshToken(ctx, rt.ID)
	if err != nil {
		return err
	}
	if revoked {
		metrics.RecordToken("revoked")
	}
	return nil
}

// RevokeAll ends every session of userID and reports how many were live.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *TokenService) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	return s.sessions.ListLiveSessions(ctx, userID)
}

// ParseAccess validates an access token.  Codec errors are passed through
// so callers can tell an expired token from a forged one.
func (s *TokenService) ParseAccess(token string) (*utils.Claims, error) {
	return s.codec.Verify(token)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
