package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/memstore"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

// abandoningSessions cancels the caller's context right after a token is
// spent, and its writes fail on a dead context the way a SQL driver does.
type abandoningSessions struct {
	*memstore.Sessions
	cancel context.CancelFunc
}

func (s *abandoningSessions) RevokeRefreshToken(ctx context.Context, id string) (bool, error) {
	won, err := s.Sessions.RevokeRefreshToken(ctx, id)
	s.cancel()
	return won, err
}

func (s *abandoningSessions) MarkOneTimeTokenUsed(ctx context.Context, p model.TokenPurpose, id string) (bool, error) {
	used, err := s.Sessions.MarkOneTimeTokenUsed(ctx, p, id)
	s.cancel()
	return used, err
}

func (s *abandoningSessions) CreateRefreshToken(ctx context.Context, t model.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Sessions.CreateRefreshToken(ctx, t)
}

func (s *abandoningSessions) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Sessions.RevokeAllForUser(ctx, userID)
}

type ctxUsers struct{ *memstore.Users }

func (u ctxUsers) UpdatePassword(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.Users.UpdatePassword(ctx, id, hash)
}

func TestRotateSurvivesAbandonedCaller(t *testing.T) {
	h := newHarness(t)
	id := h.verifiedUser(t, alice)
	pair := h.login(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &abandoningSessions{Sessions: h.sessions, cancel: cancel}
	tokens := service.NewTokenService(h.codec, store, h.users, tokenTTL, time.Hour)

	next, err := tokens.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	live, err := h.tokens.Sessions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, live, 1)
	_, err = h.tokens.Rotate(context.Background(), next.RefreshToken)
	require.NoError(t, err, "the successor must be usable")
}

func TestRotateWithDeadContextKeepsToken(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t, alice)
	pair := h.login(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.tokens.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.tokens.Rotate(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
}

func TestResetPasswordSurvivesAbandonedCaller(t *testing.T) {
	h := newHarness(t)
	id := h.verifiedUser(t, alice)
	old := h.login(t, alice)
	h.auth.ForgotPassword(context.Background(), alice)
	raw := h.mail.lastToken(t, alice, "Reset")

	hasher := utils.NewHasher(utils.HashParams{Time: 1, Memory: 64, Parallelism: 1}, 1)
	hasher.Start()
	t.Cleanup(hasher.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &abandoningSessions{Sessions: h.sessions, cancel: cancel}
	users := ctxUsers{h.users}
	auth := service.NewAuthService(service.AuthDeps{
		Users:    users,
		Sessions: store,
		Tokens:   service.NewTokenService(h.codec, store, users, tokenTTL, time.Hour),
		Hasher:   hasher,
		Notifier: h.mail,
		Mail:     email.Templates{BaseURL: "http://localhost:8000"},
	})

	require.NoError(t, auth.ResetPassword(ctx, raw, "N3wPassw0rd!x"))
	require.Error(t, ctx.Err())

	_, err := h.auth.Login(context.Background(), alice, "N3wPassw0rd!x", service.SessionMeta{})
	require.NoError(t, err)
	_, err = h.tokens.Rotate(context.Background(), old.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken, "sessions end with the reset")

	live, err := h.tokens.Sessions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, live, 1)
}

func TestResetPasswordWithDeadContextKeepsToken(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t, alice)
	h.auth.ForgotPassword(context.Background(), alice)
	raw := h.mail.lastToken(t, alice, "Reset")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, h.auth.ResetPassword(ctx, raw, "N3wPassw0rd!x"))

	require.NoError(t, h.auth.ResetPassword(context.Background(), raw, "N3wPassw0rd!x"))
	_, err := h.auth.Login(context.Background(), alice, "N3wPassw0rd!x", service.SessionMeta{})
	require.NoError(t, err)
}
