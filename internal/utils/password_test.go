package utils_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/utils"
)

var fastParams = utils.HashParams{Time: 1, Memory: 64, Parallelism: 1}

func newHasher(t *testing.T) *utils.Hasher {
	t.Helper()
	h := utils.NewHasher(fastParams, 2)
	h.Start()
	t.Cleanup(h.Close)
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHasher(t)

	a, err := h.Hash(ctx, "Str0ngPass!23")
	require.NoError(t, err)
	b, err := h.Hash(ctx, "Str0ngPass!23")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "salt must differ between calls")
	require.True(t, strings.HasPrefix(a, "$argon2id$v=19$m=64,t=1,p=1$"))

	ok, err := h.Verify(ctx, "Str0ngPass!23", a)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(ctx, "wrong", a)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newHasher(t)
	for _, enc := range []string{
		"",
		"plain",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=18$m=64,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=64,t=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=64,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=64,t=1,p=1$c2FsdA$",
	} {
		ok, err := h.Verify(context.Background(), "x", enc)
		require.NoError(t, err, enc)
		require.False(t, ok, enc)
	}
}

func TestHasherParallelCallers(t *testing.T) {
	ctx := context.Background()
	h := newHasher(t)
	enc, err := h.Hash(ctx, "pw-123456")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.Verify(ctx, "pw-123456", enc)
			if err == nil && !ok {
				err = context.Canceled
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestHasherObserve(t *testing.T) {
	h := utils.NewHasher(fastParams, 1)
	var ops []string
	var mu sync.Mutex
	h.Observe = func(op string, _ float64) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	}
	defer h.Close()

	enc, err := h.Hash(context.Background(), "pw-123456")
	require.NoError(t, err)
	_, err = h.Verify(context.Background(), "pw-123456", enc)
	require.NoError(t, err)
	require.Equal(t, []string{"hash", "verify"}, ops)
}

func TestHasherClosed(t *testing.T) {
	h := utils.NewHasher(fastParams, 1)
	h.Start()
	h.Close()
	h.Close()

	_, err := h.Hash(context.Background(), "pw-123456")
	require.ErrorIs(t, err, utils.ErrHasherClosed)
}

func TestHasherCanceledContext(t *testing.T) {
	h := utils.NewHasher(fastParams, 1)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the job may still win the race for a queue slot
	_, err := h.Hash(ctx, "pw-123456")
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}
