package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/yourusername/finance-api/internal/config"
)

// EmailService sends transactional emails.
type EmailService interface {
	SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error
}

const verificationSubject = "Code verification"

// verificationHTML renders the verification email body.
func verificationHTML(code string, ttl time.Duration) string {
	return fmt.Sprintf(`<!doctype html>
<html><body style="margin:0;background:#f6f9fc;">
<div style="max-width:560px;margin:24px auto;padding:24px;border:1px solid #e6e9ef;border-radius:12px;background:#fff;">
  <h1 style="margin:0 0 8px 0;font:600 20px 'Segoe UI',Arial,sans-serif;color:#0f172a;">Verify your email</h1>
  <p style="margin:0 0 16px 0;font:400 14px 'Segoe UI',Arial,sans-serif;color:#334155;">
    Use the code below to finish signing in. It will expire in <b>%d minutes</b>.
  </p>
  <div style="display:inline-block;padding:12px 18px;border:1px solid #e2e8f0;border-radius:12px;background:#f8fafc;font:700 24px 'Segoe UI',Arial,sans-serif;letter-spacing:2px;color:#0f172a;">%s</div>
  <p style="margin:16px 0 0 0;font:400 12px 'Segoe UI',Arial,sans-serif;color:#64748b;">
    If you didn't request this code, ignore this email.
  </p>
</div>
</body></html>`, int(ttl.Minutes()), code)
}

func verificationText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}

// NewEmailService builds the sender selected by email.provider.
func NewEmailService(cfg config.EmailConfig, codeTTL time.Duration) (EmailService, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "noop":
		return &NoopEmailService{}, nil
	case "smtp":
		return NewSMTPEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.From, codeTTL)
	case "resend":
		return NewResendEmailService(cfg.ResendAPIKey, cfg.From, codeTTL)
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", cfg.Provider)
	}
}

// NoopEmailService only logs. Used in development and tests.
type NoopEmailService struct{}

func (s *NoopEmailService) SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	zap.L().Named("email").Info("noop send verification code", zap.String("to", toEmail))
	return nil
}

// SMTPEmailService delivers mail over implicit TLS (port 465) or STARTTLS.
type SMTPEmailService struct {
	dialer *gomail.Dialer
	from   string
	ttl    time.Duration
}

func NewSMTPEmailService(host string, port int, user, password, from string, codeTTL time.Duration) (*SMTPEmailService, error) {
	if host == "" || user == "" || password == "" {
		return nil, fmt.Errorf("smtp host, user and password are required")
	}
	if from == "" {
		from = user
	}
	dialer := gomail.NewDialer(host, port, user, password)
	dialer.SSL = port == 465
	return &SMTPEmailService{dialer: dialer, from: from, ttl: codeTTL}, nil
}

func (s *SMTPEmailService) SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	if toEmail == "" || code == "" {
		return fmt.Errorf("toEmail and code are required")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", verificationSubject)
	m.SetBody("text/plain", verificationText(code, s.ttl))
	m.AddAlternative("text/html", verificationHTML(code, s.ttl))

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		zap.L().Named("email").Info("verification code sent", zap.String("to", toEmail))
		return nil
	}
}

// ResendEmailService sends emails via Resend REST API.
type ResendEmailService struct {
	from   string
	ttl    time.Duration
	client *resend.Client
}

func NewResendEmailService(apiKey, from string, codeTTL time.Duration) (*ResendEmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	return &ResendEmailService{
		from:   from,
		ttl:    codeTTL,
		client: resend.NewClient(apiKey),
	}, nil
}

func (s *ResendEmailService) SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	if toEmail == "" || code == "" {
		return fmt.Errorf("toEmail and code are required")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: verificationSubject,
		Text:    verificationText(code, s.ttl),
		Html:    verificationHTML(code, s.ttl),
	}

	options := &resend.SendEmailOptions{}
	if strings.TrimSpace(idempotencyKey) != "" {
		options.IdempotencyKey = strings.TrimSpace(idempotencyKey)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
