package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

const (
	DefaultAPIKeyPrefix = "ask_live_"
	apiKeyDisplayLen    = 16
	DefaultGraceHours   = 24
)

// APIKeyService manages machine credentials.  Like refresh tokens, only
// the SHA-256 of a raw key is stored and the raw key is returned once.
type APIKeyService struct {
	store  APIKeyStore
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

// NewAPIKeyService builds the service; an empty prefix means
// DefaultAPIKeyPrefix.
func NewAPIKeyService(store APIKeyStore, prefix string, log *zap.Logger) *APIKeyService {
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{store: store, prefix: prefix, log: log, now: utcNow}
}

// Create mints a key.  The second return value is the raw key.
func (s *APIKeyService) Create(ctx context.Context, name, creatorID string, expiresAt *time.Time, rateLimit *int) (model.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return model.APIKey{}, "", fmt.Errorf("%w: name must be 1-100 characters", ErrInvalidInput)
	}
	if rateLimit != nil && *rateLimit <= 0 {
		return model.APIKey{}, "", fmt.Errorf("%w: rate_limit must be positive", ErrInvalidInput)
	}
	secret, err := utils.NewOpaqueSecret()
	if err != nil {
		return model.APIKey{}, "", err
	}
	raw := s.prefix + secret
	k := model.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyPrefix: raw[:apiKeyDisplayLen],
		KeyHash:   utils.HashSecret(raw),
		CreatedBy: creatorID,
		ExpiresAt: expiresAt,
		RateLimit: rateLimit,
		CreatedAt: s.now(),
	}
	k, err = s.store.Create(ctx, k)
	if err != nil {
		return model.APIKey{}, "", fmt.Errorf("store api key: %w", err)
	}
	return k, raw, nil
}

// Validate resolves a raw key.  Unknown, revoked and expired keys are all
// ErrInvalidToken.  A successful validation is counted.
func (s *APIKeyService) Validate(ctx context.Context, raw string) (model.APIKey, error) {
	if raw == "" {
		return model.APIKey{}, ErrInvalidToken
	}
	k, err := s.store.GetActiveByHash(ctx, utils.HashSecret(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.APIKey{}, ErrInvalidToken
		}
		return model.APIKey{}, err
	}
	now := s.now()
	if k.Expired(now) {
		return model.APIKey{}, ErrInvalidToken
	}
	if err := s.store.RecordUsage(ctx, k.ID); err != nil {
		return model.APIKey{}, fmt.Errorf("record api key usage: %w", err)
	}
	k.UsageCount++
	k.LastUsedAt = &now
	return k, nil
}

// Rotate issues a replacement that inherits name, creator, rate limit and
// expiry, then moves the old key's expiry to now+grace.  Both keys work
// until then.  An old expiry that is already sooner is left alone.
func (s *APIKeyService) Rotate(ctx context.Context, keyID string, graceHours int) (model.APIKey, string, error) {
	if graceHours < 0 {
		return model.APIKey{}, "", fmt.Errorf("%w: grace_hours must not be negative", ErrInvalidInput)
	}
	old, err := s.store.GetByID(ctx, keyID)
	if err != nil {
		return model.APIKey{}, "", mapNotFound(err)
	}
	if old.RevokedAt != nil {
		return model.APIKey{}, "", ErrNotFound
	}
	next, raw, err := s.Create(ctx, old.Name, old.CreatedBy, old.ExpiresAt, old.RateLimit)
	if err != nil {
		return model.APIKey{}, "", err
	}
	graceEnd := s.now().Add(time.Duration(graceHours) * time.Hour)
	if old.ExpiresAt == nil || graceEnd.Before(*old.ExpiresAt) {
		if err := s.store.SetExpiry(ctx, old.ID, graceEnd); err != nil {
			return model.APIKey{}, "", fmt.Errorf("shorten rotated key: %w", err)
		}
	}
	s.log.Info("api key rotated", zap.String("old_id", old.ID), zap.String("new_id", next.ID),
		zap.Time("grace_until", graceEnd))
	return next, raw, nil
}

// Revoke disables a key immediately.
func (s *APIKeyService) Revoke(ctx context.Context, keyID string) error {
	if _, err := s.store.GetByID(ctx, keyID); err != nil {
		return mapNotFound(err)
	}
	return s.store.Revoke(ctx, keyID)
}

func (s *APIKeyService) Get(ctx context.Context, keyID string) (model.APIKey, error) {
	k, err := s.store.GetByID(ctx, keyID)
	if err != nil {
		return model.APIKey{}, mapNotFound(err)
	}
	return k, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]model.APIKey, error) {
	return s.store.List(ctx)
}
