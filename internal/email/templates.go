// Package email builds the account mails and delivers them off the
// request path.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

var (
	verifyHTML = template.Must(template.New("verify_html").Parse(`<h2>Verify your email</h2>
<p>Click the link below to verify your email address:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>This link expires in {{.TTL}}.</p>
<p>If you did not create an account, you can safely ignore this email.</p>`))

	resetHTML = template.Must(template.New("reset_html").Parse(`<h2>Reset your password</h2>
<p>Click the link below to set a new password:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>This link expires in {{.TTL}}.</p>
<p>If you did not request a password reset, you can safely ignore this email.</p>`))
)

// LinkVars feeds the verification and reset templates.
type LinkVars struct {
	Link string
	TTL  string
}

// Templates renders the verification and reset mails.  Links point at
// BaseURL; the expiry line states VerificationTTL or ResetTTL.
type Templates struct {
	BaseURL         string
	AppName         string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

func (t Templates) link(path, token string) string {
	return strings.TrimRight(t.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (t Templates) app() string {
	if t.AppName == "" {
		return "Auth Service"
	}
	return t.AppName
}

// Verification returns subject and HTML body for the address check mail.
func (t Templates) Verification(token string) (string, string, error) {
	body, err := render(verifyHTML, LinkVars{
		Link: t.link("/auth/verify-email", token),
		TTL:  HumanTTL(orDefault(t.VerificationTTL, 24*time.Hour)),
	})
	return t.app() + " - Verify your email", body, err
}

// PasswordReset returns subject and HTML body for the reset mail.
func (t Templates) PasswordReset(token string) (string, string, error) {
	body, err := render(resetHTML, LinkVars{
		Link: t.link("/auth/reset-password", token),
		TTL:  HumanTTL(orDefault(t.ResetTTL, time.Hour)),
	})
	return t.app() + " - Reset your password", body, err
}

func render(tpl *template.Template, vars LinkVars) (string, error) {
	var b bytes.Buffer
	if err := tpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return b.String(), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// HumanTTL spells a duration the way the mails state it: "1 hour",
// "24 hours", "30 minutes".
func HumanTTL(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.Round(time.Second).String()
	}
}
