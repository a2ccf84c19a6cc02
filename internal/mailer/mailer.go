package mailer

import (
	"context"
	"log/slog"
)

// Mailer is the delivery boundary. Template composition and transport live
// outside this service; we only hand over addresses, codes and links.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code, token string) error
	SendPasswordReset(ctx context.Context, email, resetURL string) error
	SendLoginAlert(ctx context.Context, email, deviceName, location string) error
}

// LogMailer writes outgoing mail to the log instead of delivering it.
// Default in development and tests.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationCode(ctx context.Context, email, code, token string) error {
	m.logger.InfoContext(ctx, "mail: verification code", "to", email, "code", code, "token", token)
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	m.logger.InfoContext(ctx, "mail: password reset", "to", email, "url", resetURL)
	return nil
}

func (m *LogMailer) SendLoginAlert(ctx context.Context, email, deviceName, location string) error {
	m.logger.InfoContext(ctx, "mail: login alert", "to", email, "device", deviceName, "location", location)
	return nil
}
