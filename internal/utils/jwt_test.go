package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/utils"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCodecRoundTrip(t *testing.T) {
	for _, alg := range []string{"", "HS256", "HS384", "HS512"} {
		c, err := utils.NewCodec(testSecret, alg)
		require.NoError(t, err, alg)

		tok, err := c.Issue("user-1", "admin", time.Minute)
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(time.Minute), tok.Exp, 2*time.Second)

		claims, err := c.Verify(tok.Token)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)
		require.Equal(t, "admin", claims.Role)
	}
}

func TestCodecRejectsUnsupportedAlgorithm(t *testing.T) {
	for _, alg := range []string{"none", "RS256", "ES256", "nope"} {
		_, err := utils.NewCodec(testSecret, alg)
		require.Error(t, err, alg)
	}
}

func TestCodecExpired(t *testing.T) {
	c, err := utils.NewCodec(testSecret, "HS256")
	require.NoError(t, err)

	tok, err := c.Issue("user-1", "user", -time.Minute)
	require.NoError(t, err)
	_, err = c.Verify(tok.Token)
	require.ErrorIs(t, err, utils.ErrTokenExpired)
}

func TestCodecWrongSecret(t *testing.T) {
	a, _ := utils.NewCodec(testSecret, "HS256")
	b, _ := utils.NewCodec("another-secret-another-secret!!", "HS256")

	tok, err := a.Issue("user-1", "user", time.Minute)
	require.NoError(t, err)
	_, err = b.Verify(tok.Token)
	require.ErrorIs(t, err, utils.ErrTokenBadSignature)
}

func TestCodecAlgorithmPinned(t *testing.T) {
	hs512, _ := utils.NewCodec(testSecret, "HS512")
	hs256, _ := utils.NewCodec(testSecret, "HS256")

	tok, err := hs512.Issue("user-1", "user", time.Minute)
	require.NoError(t, err)
	_, err = hs256.Verify(tok.Token)
	require.Error(t, err)
}

func TestCodecMalformed(t *testing.T) {
	c, _ := utils.NewCodec(testSecret, "HS256")
	for _, raw := range []string{"", "abc", "a.b.c"} {
		_, err := c.Verify(raw)
		require.ErrorIs(t, err, utils.ErrTokenMalformed, raw)
	}
}
