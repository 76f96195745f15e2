package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidRecipient is returned for an address that would break the
// message headers.
var ErrInvalidRecipient = errors.New("mailer: invalid recipient")

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465). Otherwise the connection
	// is upgraded with STARTTLS when the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
	Links       Links
}

// SMTPMailer sends HTML mail through an SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *zap.Logger
	now    func() time.Time
	send   func(ctx context.Context, to string, msg []byte) error
}

// NewSMTPMailer returns a mailer for cfg. A nil logger is replaced by a no-op
// logger.
func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("mailer: smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SMTPMailer{cfg: cfg, logger: logger, now: time.Now}
	m.send = m.deliver
	return m, nil
}

// SendPasswordReset mails the reset link for token.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, name, token string, expiresAt time.Time) error {
	body, err := render(resetTemplate, name, m.cfg.Links.reset(token), expiresAt)
	if err != nil {
		return err
	}
	return m.sendMail(ctx, to, resetSubject, body)
}

// SendVerification mails the verification link for token.
func (m *SMTPMailer) SendVerification(ctx context.Context, to, name, token string, expiresAt time.Time) error {
	body, err := render(verifyTemplate, name, m.cfg.Links.verify(token), expiresAt)
	if err != nil {
		return err
	}
	return m.sendMail(ctx, to, verifySubject, body)
}

func (m *SMTPMailer) sendMail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return ErrInvalidRecipient
	}

	msg := m.compose(to, subject, body)
	if err := m.send(ctx, to, msg); err != nil {
		return err
	}

	m.logger.Info("mail sent", zap.String("subject", subject))
	return nil
}

func (m *SMTPMailer) compose(to, subject, body string) []byte {
	var msg bytes.Buffer
	headers := [][2]string{
		{"From", m.cfg.From},
		{"To", to},
		{"Subject", subject},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

func (m *SMTPMailer) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if !m.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}
