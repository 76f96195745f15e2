package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captured struct {
	to  string
	msg string
}

func newTestMailer(t *testing.T) (*SMTPMailer, *[]captured) {
	t.Helper()
	m, err := NewSMTPMailer(SMTPConfig{
		Host:  "smtp.example.test",
		From:  "no-reply@securyflex.nl",
		Links: Links{BaseURL: "https://securyflex.nl/"},
	}, nil)
	require.NoError(t, err)

	var sent []captured
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	m.send = func(_ context.Context, to string, msg []byte) error {
		sent = append(sent, captured{to: to, msg: string(msg)})
		return nil
	}
	return m, &sent
}

func TestNewSMTPMailerRequiresHostAndFrom(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{From: "a@b.nl"}, nil)
	assert.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Host: "smtp"}, nil)
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp", From: "a@b.nl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 587, m.cfg.Port)
}

func TestPasswordResetMessage(t *testing.T) {
	m, sent := newTestMailer(t)
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := m.SendPasswordReset(context.Background(), "guard@securyflex.nl", "Jan <b>", "tok+en/=", expires)
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	got := (*sent)[0]
	assert.Equal(t, "guard@securyflex.nl", got.to)
	assert.True(t, strings.HasPrefix(got.msg, "From: no-reply@securyflex.nl\r\nTo: guard@securyflex.nl\r\nSubject: "+resetSubject+"\r\n"))
	assert.Contains(t, got.msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	assert.Contains(t, got.msg, "https://securyflex.nl/reset-password?token=tok%2Ben%2F%3D")
	assert.Contains(t, got.msg, "Hello Jan &lt;b&gt;,")
	assert.Contains(t, got.msg, "1 Mar 2026 10:00 UTC")
}

func TestVerificationMessageUsesCustomPath(t *testing.T) {
	m, sent := newTestMailer(t)
	m.cfg.Links.VerifyPath = "/account/confirm"

	require.NoError(t, m.SendVerification(context.Background(), "guard@securyflex.nl", "", "abc", time.Now()))
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "https://securyflex.nl/account/confirm?token=abc")
	assert.Contains(t, (*sent)[0].msg, "Hello there,")
}

func TestRejectsHeaderInjection(t *testing.T) {
	m, sent := newTestMailer(t)
	err := m.SendVerification(context.Background(), "a@b.nl\r\nBcc: evil@x.nl", "", "abc", time.Now())
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Empty(t, *sent)
}

func TestSendErrorsPropagate(t *testing.T) {
	m, _ := newTestMailer(t)
	boom := errors.New("relay down")
	m.send = func(context.Context, string, []byte) error { return boom }
	assert.ErrorIs(t, m.SendPasswordReset(context.Background(), "a@b.nl", "", "t", time.Now()), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendPasswordReset(ctx, "a@b.nl", "", "t", time.Now()), context.Canceled)
}

func TestLogMailerHidesLinksByDefault(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := LogMailer{Logger: zap.New(core), Links: Links{BaseURL: "http://localhost:3000"}}

	require.NoError(t, m.SendPasswordReset(context.Background(), "guard@securyflex.nl", "", "secret-token", time.Now()))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "password reset mail", entry.Message)
	assert.NotContains(t, entry.ContextMap(), "link")

	m.IncludeLinks = true
	require.NoError(t, m.SendVerification(context.Background(), "guard@securyflex.nl", "", "secret-token", time.Now()))
	assert.Equal(t, "http://localhost:3000/verify-email?token=secret-token", logs.All()[1].ContextMap()["link"])

	assert.NoError(t, LogMailer{}.SendVerification(context.Background(), "x@y.nl", "", "t", time.Now()))
}
