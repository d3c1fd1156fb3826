package service_test

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/breach"
	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/memstore"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

const (
	alice    = "alice@test.com"
	alicePW  = "Str0ngPass!23"
	jwtKey   = "test-secret-test-secret-test-secret"
	tokenTTL = 15 * time.Minute
)

type mail struct {
	To, Subject, Body string
}

// outbox captures notifications instead of sending them.
type outbox struct {
	mu   sync.Mutex
	sent []mail
}

func (o *outbox) Notify(to, subject, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, mail{to, subject, body})
}

func (o *outbox) all() []mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mail(nil), o.sent...)
}

// auditTrail captures audit events in order.
type auditTrail struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (a *auditTrail) Record(e model.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *auditTrail) all() []model.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuditEvent(nil), a.events...)
}

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

// lastToken pulls the single-use token out of the newest mail to addr
// whose subject contains kind.
func (o *outbox) lastToken(t *testing.T, addr, kind string) string {
	t.Helper()
	msgs := o.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To == addr && strings.Contains(msgs[i].Subject, kind) {
			m := tokenRe.FindStringSubmatch(msgs[i].Body)
			require.Len(t, m, 2)
			return m[1]
		}
	}
	t.Fatalf("no %q mail to %s", kind, addr)
	return ""
}

type harness struct {
	users    *memstore.Users
	sessions *memstore.Sessions
	codec    *utils.Codec
	tokens   *service.TokenService
	auth     *service.AuthService
	mail     *outbox
	audit    *auditTrail
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hasher := utils.NewHasher(utils.HashParams{Time: 1, Memory: 64, Parallelism: 1}, 2)
	hasher.Start()
	t.Cleanup(hasher.Close)

	codec, err := utils.NewCodec(jwtKey, "HS256")
	require.NoError(t, err)

	breached := breach.New()
	_, err = breached.Load(strings.NewReader("# sample\npassword123\nqwertyuiop\n"))
	require.NoError(t, err)

	h := &harness{
		users:    memstore.NewUsers(),
		sessions: memstore.NewSessions(),
		codec:    codec,
		mail:     &outbox{},
		audit:    &auditTrail{},
	}
	h.sessions.Users = h.users
	h.tokens = service.NewTokenService(codec, h.sessions, h.users, tokenTTL, 7*24*time.Hour)
	h.auth = service.NewAuthService(service.AuthDeps{
		Users:    h.users,
		Sessions: h.sessions,
		Tokens:   h.tokens,
		Hasher:   hasher,
		Notifier: h.mail,
		Breach:   breached,
		Audit:    h.audit,
		Mail:     email.Templates{BaseURL: "http://localhost:8000", AppName: "Auth"},
	})
	return h
}

// verifiedUser registers addr and consumes its verification mail.
func (h *harness) verifiedUser(t *testing.T, addr string) string {
	t.Helper()
	ctx := context.Background()
	u, err := h.auth.Register(ctx, addr, alicePW)
	require.NoError(t, err)
	require.NoError(t, h.auth.VerifyEmail(ctx, h.mail.lastToken(t, addr, "Verify")))
	return u.ID
}

func (h *harness) login(t *testing.T, addr string) service.TokenPair {
	t.Helper()
	res, err := h.auth.Login(context.Background(), addr, alicePW, service.SessionMeta{UserAgent: "go-test", IP: "127.0.0.1"})
	require.NoError(t, err)
	return res.TokenPair
}
