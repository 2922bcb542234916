package testutil

import (
	"context"
	"sync"
)

// CaptureMailer records the last code sent to each address instead of delivering it.
type CaptureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	Err   error
}

func NewCaptureMailer() *CaptureMailer {
	return &CaptureMailer{codes: make(map[string]string)}
}

func (m *CaptureMailer) SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	if m.Err != nil {
		return m.Err
	}
	m.codes[toEmail] = code
	return nil
}

// Code returns the last code delivered to email.
func (m *CaptureMailer) Code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

// Sent returns the number of send attempts, failed ones included.
func (m *CaptureMailer) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// WrongCode returns a six digit code different from code.
func WrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}
