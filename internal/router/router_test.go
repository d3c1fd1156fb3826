package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/memstore"
	"github.com/iliyamo/auth-service/internal/ratelimit"
	"github.com/iliyamo/auth-service/internal/router"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

const pw = "Str0ngPass!23"

type inbox struct {
	mu   sync.Mutex
	last map[string]string
}

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

func (b *inbox) Notify(to, _, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := linkToken.FindStringSubmatch(body); len(m) == 2 {
		b.last[to] = m[1]
	}
}

func (b *inbox) token(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[to]
}

type app struct {
	e    *echo.Echo
	auth *service.AuthService
	mail *inbox
}

func newApp(t *testing.T, rules []ratelimit.Rule) *app {
	t.Helper()
	hasher := utils.NewHasher(utils.HashParams{Time: 1, Memory: 64, Parallelism: 1}, 2)
	hasher.Start()
	t.Cleanup(hasher.Close)
	codec, err := utils.NewCodec("router-test-secret-router-test", "HS256")
	require.NoError(t, err)

	users := memstore.NewUsers()
	sessions := memstore.NewSessions()
	sessions.Users = users
	mail := &inbox{last: map[string]string{}}

	tokens := service.NewTokenService(codec, sessions, users, time.Minute, time.Hour)
	auth := service.NewAuthService(service.AuthDeps{
		Users: users, Sessions: sessions, Tokens: tokens, Hasher: hasher, Notifier: mail,
		Mail: email.Templates{BaseURL: "http://localhost"},
	})
	keys := service.NewAPIKeyService(memstore.NewAPIKeys(), "", nil)

	e := router.New(router.Deps{
		Auth:    auth,
		Tokens:  tokens,
		Keys:    keys,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore(), rules, true, nil),
	}, echo.ExtractIPDirect())
	return &app{e: e, auth: auth, mail: mail}
}

func (a *app) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.RemoteAddr = "192.0.2.10:40000"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out, rec.Header()
}

func bearer(tok any) []string { return []string{echo.HeaderAuthorization, "Bearer " + tok.(string)} }

func creds(addr string) map[string]string { return map[string]string{"email": addr, "password": pw} }

func TestAccountLifecycle(t *testing.T) {
	a := newApp(t, nil)
	const addr = "alice@test.com"

	code, body, _ := a.do(t, http.MethodPost, "/v1/auth/register", creds(addr))
	require.Equal(t, http.StatusCreated, code)
	require.Contains(t, body["message"], "check your email")

	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/register", creds(addr))
	require.Equal(t, http.StatusConflict, code)

	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/login", creds(addr))
	require.Equal(t, http.StatusForbidden, code, "unverified")

	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/verify-email", map[string]string{"token": "bogus"})
	require.Equal(t, http.StatusBadRequest, code)
	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/verify-email", map[string]string{"token": a.mail.token(addr)})
	require.Equal(t, http.StatusOK, code)

	code, login, _ := a.do(t, http.MethodPost, "/v1/auth/login", creds(addr))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "bearer", login["token_type"])
	require.Greater(t, len(login["refresh_token"].(string)), 20)

	code, me, hdr := a.do(t, http.MethodGet, "/v1/auth/me", nil, bearer(login["access_token"])...)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, addr, me["email"])
	require.NotContains(t, me, "password_hash")
	require.Equal(t, "DENY", hdr.Get("X-Frame-Options"))

	code, _, _ = a.do(t, http.MethodGet, "/v1/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, next, _ := a.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{"refresh_token": login["refresh_token"]})
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, login["refresh_token"], next["refresh_token"])

	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/refresh", map[string]any{"refresh_token": login["refresh_token"]})
	require.Equal(t, http.StatusUnauthorized, code, "rotated secret is dead")

	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/logout", map[string]any{"refresh_token": next["refresh_token"]},
		bearer(next["access_token"])...)
	require.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/logout", map[string]any{"refresh_token": next["refresh_token"]},
		bearer(next["access_token"])...)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestForgotPasswordIsUniform(t *testing.T) {
	a := newApp(t, nil)
	_, err := a.auth.CreateAdmin(context.Background(), "root@test.com", pw)
	require.NoError(t, err)

	c1, known, _ := a.do(t, http.MethodPost, "/v1/auth/forgot-password", map[string]string{"email": "root@test.com"})
	c2, unknown, _ := a.do(t, http.MethodPost, "/v1/auth/forgot-password", map[string]string{"email": "ghost@test.com"})
	require.Equal(t, http.StatusOK, c1)
	require.Equal(t, c1, c2)
	require.Equal(t, known, unknown)

	code, _, _ := a.do(t, http.MethodPost, "/v1/auth/reset-password",
		map[string]string{"token": a.mail.token("root@test.com"), "new_password": "An0ther-Pass!"})
	require.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": "root@test.com", "password": "An0ther-Pass!"})
	require.Equal(t, http.StatusOK, code)
}

func TestAdminAndKeys(t *testing.T) {
	a := newApp(t, nil)
	ctx := context.Background()
	_, err := a.auth.CreateAdmin(ctx, "root@test.com", pw)
	require.NoError(t, err)
	plain, err := a.auth.CreateAdmin(ctx, "bob@test.com", pw)
	require.NoError(t, err)
	require.NoError(t, a.auth.SetRole(ctx, service.Actor{ID: "cli"}, plain.ID, "user"))

	_, root, _ := a.do(t, http.MethodPost, "/v1/auth/login", creds("root@test.com"))
	_, bob, _ := a.do(t, http.MethodPost, "/v1/auth/login", creds("bob@test.com"))
	admin := bearer(root["access_token"])

	code, _, _ := a.do(t, http.MethodGet, "/v1/admin/users", nil, bearer(bob["access_token"])...)
	require.Equal(t, http.StatusForbidden, code)

	code, page, _ := a.do(t, http.MethodGet, "/v1/admin/users?page=1&per_page=1", nil, admin...)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page["data"], 1)
	require.EqualValues(t, 2, page["pagination"].(map[string]any)["total"])

	code, _, _ = a.do(t, http.MethodGet, "/v1/admin/users?per_page=500", nil, admin...)
	require.Equal(t, http.StatusBadRequest, code)

	code, _, _ = a.do(t, http.MethodPut, "/v1/admin/users/"+plain.ID+"/active", map[string]bool{"is_active": false}, admin...)
	require.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(t, http.MethodGet, "/v1/auth/me", nil, bearer(bob["access_token"])...)
	require.Equal(t, http.StatusUnauthorized, code, "deactivated account loses access at once")

	code, created, _ := a.do(t, http.MethodPost, "/v1/keys", map[string]any{"name": "ci", "rate_limit": 100}, admin...)
	require.Equal(t, http.StatusCreated, code)
	raw := created["key"].(string)
	id := created["id"].(string)

	code, who, _ := a.do(t, http.MethodGet, "/v1/machine/whoami", nil, "X-API-Key", raw)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, id, who["id"])

	code, rotated, _ := a.do(t, http.MethodPost, "/v1/keys/"+id+"/rotate?grace_hours=0", nil, admin...)
	require.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(t, http.MethodGet, "/v1/machine/whoami", nil, "X-API-Key", rotated["key"].(string))
	require.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(t, http.MethodGet, "/v1/machine/whoami", nil, "X-API-Key", raw)
	require.Equal(t, http.StatusUnauthorized, code, "zero grace retires the old key")

	code, _, _ = a.do(t, http.MethodDelete, "/v1/keys/missing", nil, admin...)
	require.Equal(t, http.StatusNotFound, code)
}

func TestLoginIsRateLimited(t *testing.T) {
	a := newApp(t, ratelimit.DefaultRules)
	body := map[string]string{"email": "victim@test.com", "password": "wrong-password"}

	for i := 0; i < 5; i++ {
		code, _, _ := a.do(t, http.MethodPost, "/v1/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, code)
	}
	code, resp, hdr := a.do(t, http.MethodPost, "/v1/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.NotEmpty(t, hdr.Get("Retry-After"))
	require.Positive(t, resp["retry_after"])
}

func TestLoginLimitFollowsTheAccountAcrossAddresses(t *testing.T) {
	a := newApp(t, ratelimit.DefaultRules)
	login := func(i int, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.RemoteAddr = fmt.Sprintf("203.0.113.%d:40000", i+1)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		return rec.Code
	}

	padded := `{"email":"victim@test.com","password":"guess"}` + strings.Repeat(" ", 70<<10)
	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusRequestEntityTooLarge, login(i, padded))
	}

	codes := map[int]int{}
	for i := 0; i < 30; i++ {
		codes[login(i, `{"email":"victim@test.com","password":"guess"}`)]++
	}
	require.Equal(t, map[int]int{http.StatusUnauthorized: 10, http.StatusTooManyRequests: 20}, codes)
}

func TestHealthWithoutDatabase(t *testing.T) {
	a := newApp(t, nil)
	code, body, _ := a.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "degraded", body["status"])
}
