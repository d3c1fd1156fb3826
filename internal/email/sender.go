package email

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// Sender hands one message to a transport.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig holds the SMTP_* settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	TLSMode  string // starttls | ssl | none
	Insecure bool
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
	log *zap.Logger
}

func NewSMTPSender(cfg SMTPConfig, log *zap.Logger) *SMTPSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, log: log.With(zap.String("host", cfg.Host), zap.Int("port", cfg.Port))}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.Insecure}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.log.Debug("mail sent", zap.String("subject", subject))
	return nil
}

// LogSender writes mails to the logger instead of sending them.  It is
// the development transport.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(_ context.Context, to, subject, htmlBody string) error {
	l := s.Log
	if l == nil {
		l = zap.NewNop()
	}
	l.Info("mail (not sent)", zap.String("to", to), zap.String("subject", subject), zap.String("body", htmlBody))
	return nil
}
