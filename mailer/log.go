package mailer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogMailer writes deliveries to a logger instead of sending them. With
// IncludeLinks unset only the recipient and expiry are logged, so it is safe
// outside development.
type LogMailer struct {
	Logger       *zap.Logger
	Links        Links
	IncludeLinks bool
}

// SendPasswordReset logs a reset delivery.
func (m LogMailer) SendPasswordReset(_ context.Context, to, _, token string, expiresAt time.Time) error {
	m.log("password reset mail", to, m.Links.reset(token), expiresAt)
	return nil
}

// SendVerification logs a verification delivery.
func (m LogMailer) SendVerification(_ context.Context, to, _, token string, expiresAt time.Time) error {
	m.log("verification mail", to, m.Links.verify(token), expiresAt)
	return nil
}

func (m LogMailer) log(msg, to, link string, expiresAt time.Time) {
	logger := m.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("to", to),
		zap.Time("expires_at", expiresAt),
	}
	if m.IncludeLinks {
		fields = append(fields, zap.String("link", link))
	}
	logger.Info(msg, fields...)
}
