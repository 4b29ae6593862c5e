// Package mailer delivers notification emails over SMTP, or writes them to
// the log when no mail server is configured.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/breaker"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// ErrNoRecipients is returned for a message without any address.
var ErrNoRecipients = errors.New("email has no recipients")

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, msg models.Email) error
}

// New picks the driver named in cfg.
func New(cfg config.MailConfig, br *breaker.Breaker, logger *zap.Logger) (Mailer, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTP(cfg, br), nil
	case "log", "":
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail driver: %s", cfg.Driver)
	}
}

// SMTPMailer sends through an SMTP relay with PLAIN auth when a username
// is configured.
type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	from    string
	breaker *breaker.Breaker
	send    func(e *email.Email, addr string, a smtp.Auth) error
}

func NewSMTP(cfg config.MailConfig, br *breaker.Breaker) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:    auth,
		from:    cfg.From,
		breaker: br,
		send: func(e *email.Email, addr string, a smtp.Auth) error {
			return e.Send(addr, a)
		},
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg models.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := build(m.from, msg)
	if err != nil {
		return err
	}
	return m.breaker.Do(func() error {
		if err := m.send(e, m.addr, m.auth); err != nil {
			return fmt.Errorf("smtp send to %v: %w", msg.To, err)
		}
		return nil
	})
}

func build(from string, msg models.Email) (*email.Email, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}
	e := email.NewEmail()
	e.From = from
	e.To = msg.To
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	for _, a := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(a.Data), a.FileName, a.ContentType); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.FileName, err)
		}
	}
	return e, nil
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("mail")}
}

func (m *LogMailer) Send(_ context.Context, msg models.Email) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.FileName)
	}
	m.logger.Info("email not sent (log driver)",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
		zap.Strings("attachments", names),
	)
	return nil
}
