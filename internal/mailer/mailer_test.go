package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

func TestSMTPMailer_BuildsMessage(t *testing.T) {
	m := NewSMTP(config.MailConfig{Host: "smtp.example.no", Port: 587, Username: "u", Password: "p", From: "noreply@oslobygg.no"}, nil)

	var sent *email.Email
	var addr string
	m.send = func(e *email.Email, a string, _ smtp.Auth) error {
		sent, addr = e, a
		return nil
	}

	err := m.Send(context.Background(), models.Email{
		To:      []string{"a@b.com"},
		Subject: "Kvittering på innsendt søknad",
		Body:    "Vi har mottatt din søknad...",
		Attachments: []models.Document{
			{FileName: "fravik-S-1.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.no:587", addr)
	assert.Equal(t, "noreply@oslobygg.no", sent.From)
	assert.Equal(t, []string{"a@b.com"}, sent.To)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "fravik-S-1.pdf", sent.Attachments[0].Filename)

	raw, err := sent.Bytes()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "Subject: =?UTF-8?"), "non-ascii subject is encoded")
}

func TestSMTPMailer_SendError(t *testing.T) {
	m := NewSMTP(config.MailConfig{Host: "smtp.example.no", Port: 25}, nil)
	m.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }

	err := m.Send(context.Background(), models.Email{To: []string{"a@b.com"}})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNoRecipients(t *testing.T) {
	m := NewSMTP(config.MailConfig{Host: "smtp.example.no", Port: 25}, nil)
	assert.ErrorIs(t, m.Send(context.Background(), models.Email{}), ErrNoRecipients)
	assert.ErrorIs(t, NewLog(zap.NewNop()).Send(context.Background(), models.Email{}), ErrNoRecipients)
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLog(zap.New(core))

	require.NoError(t, m.Send(context.Background(), models.Email{
		To:          []string{"h@example.no"},
		Subject:     "Ny fravikssøknad mottatt: Munch",
		Attachments: []models.Document{{FileName: "fravik-S-1.pdf"}},
	}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "Ny fravikssøknad mottatt: Munch", fields["subject"])
	assert.Equal(t, []interface{}{"fravik-S-1.pdf"}, fields["attachments"])
}

func TestNewDriver(t *testing.T) {
	m, err := New(config.MailConfig{Driver: "log"}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	m, err = New(config.MailConfig{Driver: "smtp", Host: "x", Port: 25}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, m)

	_, err = New(config.MailConfig{Driver: "pigeon"}, nil, zap.NewNop())
	assert.Error(t, err)
}
