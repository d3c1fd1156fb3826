package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// MinPasswordLength is the shortest password accepted on register, reset
// and change.
const MinPasswordLength = 8

// AuthDeps wires an AuthService.  Notifier and Breach may be nil.
type AuthDeps struct {
	Users    UserStore
	Sessions SessionStore
	Tokens   *TokenService
	Hasher   PasswordHasher
	Notifier Notifier
	Breach   BreachChecker
	Audit    AuditRecorder
	Mail     email.Templates
	Log      *zap.Logger

	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// AuthService implements the account use cases on top of the stores,
// the hashing pool and the token service.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	tokens   *TokenService
	hasher   PasswordHasher
	notifier Notifier
	breach   BreachChecker
	audit    AuditRecorder
	mail     email.Templates
	log      *zap.Logger

	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time

	decoyOnce sync.Once
	decoy     string
}

func NewAuthService(d AuthDeps) *AuthService {
	s := &AuthService{
		users:           d.Users,
		sessions:        d.Sessions,
		tokens:          d.Tokens,
		hasher:          d.Hasher,
		notifier:        d.Notifier,
		breach:          d.Breach,
		audit:           d.Audit,
		mail:            d.Mail,
		log:             d.Log,
		verificationTTL: d.VerificationTTL,
		resetTTL:        d.ResetTTL,
		now:             utcNow,
	}
	if s.notifier == nil {
		s.notifier = noMail{}
	}
	if s.breach == nil {
		s.breach = noBreach{}
	}
	if s.audit == nil {
		s.audit = noAudit{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.verificationTTL <= 0 {
		s.verificationTTL = 24 * time.Hour
	}
	if s.resetTTL <= 0 {
		s.resetTTL = time.Hour
	}
	s.mail.VerificationTTL = s.verificationTTL
	s.mail.ResetTTL = s.resetTTL
	return s
}

// LoginResult is a token pair plus the account that obtained it.
type LoginResult struct {
	TokenPair
	User model.User `json:"-"`
}

// Register creates an unverified account and mails a verification link.
// No tokens are issued until the address is verified.
func (s *AuthService) Register(ctx context.Context, emailAddr, password string) (model.User, error) {
	addr, err := normalizeEmail(emailAddr)
	if err != nil {
		return model.User{}, err
	}
	if err := s.checkPassword(password); err != nil {
		return model.User{}, err
	}
	if _, err := s.users.GetByEmail(ctx, addr); err == nil {
		return model.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.User{}, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := model.User{
		ID:           uuid.NewString(),
		Email:        addr,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, err
	}

	raw, err := s.newOneTimeToken(ctx, model.PurposeVerification, u.ID, s.verificationTTL)
	if err != nil {
		return model.User{}, err
	}
	subject, body, err := s.mail.Verification(raw)
	if err != nil {
		s.log.Error("register: verification mail not rendered", zap.String("user_id", u.ID), zap.Error(err))
		return u, nil
	}
	s.notifier.Notify(u.Email, subject, body)
	return u, nil
}

// Login checks the password first, so a wrong password on an inactive or
// unverified account still reads as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string, meta SessionMeta) (LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Unknown emails take as long as wrong passwords.
			_, _ = s.hasher.Verify(ctx, password, s.decoyHash(ctx))
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	ok, err := s.hasher.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return LoginResult{}, ErrAccountInactive
	}
	if !u.IsVerified {
		return LoginResult{}, ErrAccountUnverified
	}
	pair, err := s.tokens.IssuePair(ctx, u.ID, u.Role, meta)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{TokenPair: pair, User: u}, nil
}

// decoyHash is a hash of a random secret made with the live hasher
// parameters, verified against when no account matches.
func (s *AuthService) decoyHash(ctx context.Context) string {
	s.decoyOnce.Do(func() {
		secret, err := utils.NewOpaqueSecret()
		if err != nil {
			return
		}
		if h, err := s.hasher.Hash(context.WithoutCancel(ctx), secret); err == nil {
			s.decoy = h
		}
	})
	return s.decoy
}

// ChangePassword replaces the password of userID and ends every session.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return mapNotFound(err)
	}
	ok, err := s.hasher.Verify(ctx, oldPassword, u.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return mapNotFound(err)
	}
	_, err = s.tokens.RevokeAll(ctx, userID)
	return err
}

// ForgotPassword mails a reset link when the address belongs to an
// account.  The result is the same whether or not it does; store errors
// are logged and swallowed for the same reason.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error("forgot password: user lookup failed", zap.Error(err))
		}
		return
	}
	if !u.IsActive {
		return
	}
	raw, err := s.newOneTimeToken(ctx, model.PurposeReset, u.ID, s.resetTTL)
	if err != nil {
		s.log.Error("forgot password: token creation failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	subject, body, err := s.mail.PasswordReset(raw)
	if err != nil {
		s.log.Error("forgot password: reset mail not rendered", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	s.notifier.Notify(u.Email, subject, body)
}

// ResetPassword consumes a reset token, sets the new password and ends
// every session of the account.  The password is hashed before the token
// is spent; from then on the reset runs to completion even if ctx is
// cancelled.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}
	t, err := s.findOneTime(ctx, model.PurposeReset, rawToken)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.claim(ctx, model.PurposeReset, t.ID); err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, t.UserID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	_, err = s.tokens.RevokeAll(ctx, t.UserID)
	return err
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	t, err := s.findOneTime(ctx, model.PurposeVerification, rawToken)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.claim(ctx, model.PurposeVerification, t.ID); err != nil {
		return err
	}
	if err := s.users.SetVerified(ctx, t.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

func (s *AuthService) findOneTime(ctx context.Context, p model.TokenPurpose, raw string) (model.OneTimeToken, error) {
	if raw == "" {
		return model.OneTimeToken{}, ErrInvalidToken
	}
	t, err := s.sessions.FindLiveOneTimeToken(ctx, p, utils.HashSecret(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.OneTimeToken{}, ErrInvalidToken
		}
		return model.OneTimeToken{}, err
	}
	return t, nil
}

// claim marks a single-use token used.  The conditional update lets only
// one of two concurrent consumers through.
func (s *AuthService) claim(ctx context.Context, p model.TokenPurpose, id string) error {
	used, err := s.sessions.MarkOneTimeTokenUsed(ctx, p, id)
	if err != nil {
		return err
	}
	if !used {
		return ErrInvalidToken
	}
	return nil
}

func (s *AuthService) newOneTimeToken(ctx context.Context, p model.TokenPurpose, userID string, ttl time.Duration) (string, error) {
	raw, err := utils.NewOpaqueSecret()
	if err != nil {
		return "", err
	}
	now := s.now()
	err = s.sessions.CreateOneTimeToken(ctx, p, model.OneTimeToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: utils.HashSecret(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store %s token: %w", p, err)
	}
	return raw, nil
}

// Me returns the account behind an access token.
func (s *AuthService) Me(ctx context.Context, userID string) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, mapNotFound(err)
	}
	return u, nil
}

// UpdateMe sets the display name; an empty name clears it.
func (s *AuthService) UpdateMe(ctx context.Context, userID string, displayName string) (model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if len(displayName) > 100 {
		return model.User{}, fmt.Errorf("%w: display name longer than 100 characters", ErrInvalidInput)
	}
	if err := s.users.UpdateDisplayName(ctx, userID, optional(displayName)); err != nil {
		return model.User{}, mapNotFound(err)
	}
	return s.Me(ctx, userID)
}

// DeleteMe removes the account after re-checking its password.  Tokens go
// with it through the cascade.
func (s *AuthService) DeleteMe(ctx context.Context, userID, password string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return mapNotFound(err)
	}
	ok, err := s.hasher.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return mapNotFound(s.users.Delete(ctx, userID))
}

// ----- admin -----

// ListUsers returns one page of accounts and the total count.
func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// SetRole changes an account's role and records the change in the audit
// log.
func (s *AuthService) SetRole(ctx context.Context, by Actor, userID, role string) error {
	if role != model.RoleUser && role != model.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return mapNotFound(err)
	}
	if err := s.users.SetRole(ctx, userID, role); err != nil {
		return mapNotFound(err)
	}
	s.audit.Record(by.event(model.AuditRoleChange, userID, map[string]any{
		"old_role": u.Role, "new_role": role, "changed_by": by.ID,
	}))
	return nil
}

// SetActive toggles an account and records it in the audit log.
// Deactivation also ends every session; outstanding access tokens are
// refused by the access middleware.
func (s *AuthService) SetActive(ctx context.Context, by Actor, userID string, active bool) error {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return mapNotFound(err)
	}
	event := model.AuditAccountActivated
	if !active {
		event = model.AuditAccountDeactivated
	}
	s.audit.Record(by.event(event, userID, map[string]any{"changed_by": by.ID}))
	if !active {
		if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// Actor identifies who made an administrative change.
type Actor struct {
	ID        string
	IP        string
	UserAgent string
}

func (a Actor) event(name, userID string, details map[string]any) model.AuditEvent {
	return model.AuditEvent{
		UserID:    &userID,
		Event:     name,
		IPAddress: optional(a.IP),
		UserAgent: optional(a.UserAgent),
		Details:   details,
	}
}

// CreateAdmin provisions a verified admin account; used by the CLI.
func (s *AuthService) CreateAdmin(ctx context.Context, emailAddr, password string) (model.User, error) {
	addr, err := normalizeEmail(emailAddr)
	if err != nil {
		return model.User{}, err
	}
	if err := s.checkPassword(password); err != nil {
		return model.User{}, err
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := model.User{
		ID: uuid.NewString(), Email: addr, PasswordHash: hash, Role: model.RoleAdmin,
		IsActive: true, IsVerified: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, err
	}
	return u, nil
}

func (s *AuthService) checkPassword(p string) error {
	if len([]rune(p)) < MinPasswordLength {
		return ErrWeakPassword
	}
	if s.breach.IsKnownBreached(p) {
		return ErrBreachedPassword
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || !strings.Contains(addr[strings.LastIndex(addr, "@")+1:], ".") {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return addr, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
