package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/service"
)

func TestRotateIssuesFreshPair(t *testing.T) {
	h := newHarness(t)
	id := h.verifiedUser(t, alice)
	first := h.login(t, alice)

	next, err := h.tokens.Rotate(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, next.RefreshToken)
	require.Equal(t, "bearer", next.TokenType)

	claims, err := h.tokens.ParseAccess(next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, id, claims.Subject)

	sessions, err := h.tokens.Sessions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "go-test", *sessions[0].UserAgent)
	require.Equal(t, "127.0.0.1", *sessions[0].IPAddress)
}

func TestRotatedSecretCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t, alice)
	first := h.login(t, alice)

	_, err := h.tokens.Rotate(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	_, err = h.tokens.Rotate(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestConcurrentRotateHasOneWinner(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t, alice)
	pair := h.login(t, alice)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.tokens.Rotate(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, service.ErrInvalidToken):
				invalid++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, n-1, invalid)
}

func TestRotateRejectsDeactivatedUser(t *testing.T) {
	h := newHarness(t)
	id := h.verifiedUser(t, alice)
	pair := h.login(t, alice)

	require.NoError(t, h.users.SetActive(context.Background(), id, false))
	_, err := h.tokens.Rotate(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestRotateUnknownSecret(t *testing.T) {
	h := newHarness(t)
	for _, raw := range []string{"", "not-a-real-token"} {
		_, err := h.tokens.Rotate(context.Background(), raw)
		require.ErrorIs(t, err, service.ErrInvalidToken)
	}
}

func TestRevokeOne(t *testing.T) {
	h := newHarness(t)
	aliceID := h.verifiedUser(t, alice)
	h.verifiedUser(t, "bob@test.com")
	pair := h.login(t, alice)
	ctx := context.Background()

	bob, err := h.users.GetByEmail(ctx, "bob@test.com")
	require.NoError(t, err)
	require.ErrorIs(t, h.tokens.RevokeOne(ctx, pair.RefreshToken, bob.ID), service.ErrNotOwner)

	require.NoError(t, h.tokens.RevokeOne(ctx, pair.RefreshToken, aliceID))
	require.ErrorIs(t, h.tokens.RevokeOne(ctx, pair.RefreshToken, aliceID), service.ErrInvalidToken)

	_, err = h.tokens.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestRevokeAll(t *testing.T) {
	h := newHarness(t)
	id := h.verifiedUser(t, alice)
	a := h.login(t, alice)
	b := h.login(t, alice)
	ctx := context.Background()

	n, err := h.tokens.RevokeAll(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, p := range []service.TokenPair{a, b} {
		_, err := h.tokens.Rotate(ctx, p.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidToken)
	}
	n, err = h.tokens.RevokeAll(ctx, id)
	require.NoError(t, err)
	require.Zero(t, n)
}
