package service

import (
	"context"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/utils"
)

// The interfaces below are the narrow store contracts the services are
// written against.  The repository package implements them on MySQL;
// tests use in-memory fakes.

type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context, limit, offset int) ([]model.User, int, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	SetVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id, role string) error
	UpdateDisplayName(ctx context.Context, id string, name *string) error
	Delete(ctx context.Context, id string) error
}

// SessionStore keeps refresh tokens and the single-use verification and
// reset tokens.  Every mutation is a single-row conditional update.
type SessionStore interface {
	CreateRefreshToken(ctx context.Context, t model.RefreshToken) error
	FindLiveRefreshToken(ctx context.Context, hash string) (model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	ListLiveSessions(ctx context.Context, userID string) ([]model.Session, error)

	CreateOneTimeToken(ctx context.Context, p model.TokenPurpose, t model.OneTimeToken) error
	FindLiveOneTimeToken(ctx context.Context, p model.TokenPurpose, hash string) (model.OneTimeToken, error)
	MarkOneTimeTokenUsed(ctx context.Context, p model.TokenPurpose, id string) (bool, error)

	PurgeExpired(ctx context.Context, retention time.Duration) (model.PurgeStats, error)
}

type APIKeyStore interface {
	Create(ctx context.Context, k model.APIKey) (model.APIKey, error)
	GetActiveByHash(ctx context.Context, hash string) (model.APIKey, error)
	GetByID(ctx context.Context, id string) (model.APIKey, error)
	List(ctx context.Context) ([]model.APIKey, error)
	RecordUsage(ctx context.Context, id string) error
	SetExpiry(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// PasswordHasher is satisfied by *utils.Hasher.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, encoded string) (bool, error)
}

// AccessCodec is satisfied by *utils.Codec.
type AccessCodec interface {
	Issue(subject, role string, ttl time.Duration) (utils.AccessToken, error)
	Verify(raw string) (*utils.Claims, error)
}

// Notifier delivers mail on a best-effort basis.  Implementations must
// not block the caller on transport and never report delivery failure.
type Notifier interface {
	Notify(to, subject, htmlBody string)
}

// BreachChecker reports whether a password is on a known-breached list.
// It fails open: any lookup problem yields false.
type BreachChecker interface {
	IsKnownBreached(password string) bool
}

// AuditRecorder takes account change events fire-and-forget
// (*audit.Recorder).  It must not block and never reports failure.
type AuditRecorder interface {
	Record(e model.AuditEvent)
}

type noAudit struct{}

func (noAudit) Record(model.AuditEvent) {}

type noBreach struct{}

func (noBreach) IsKnownBreached(string) bool { return false }

type noMail struct{}

func (noMail) Notify(string, string, string) {}

func utcNow() time.Time { return time.Now().UTC() }
