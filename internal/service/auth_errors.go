package service

import (
	"errors"
	"fmt"

	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// Auth flow errors. Their texts double as the error_type reported by handlers.
var (
	ErrCodeNotRequested      = errors.New("code_not_requested")
	ErrCodeAlreadyUsed       = errors.New("code_already_used")
	ErrCodeExpired           = errors.New("code_expired")
	ErrCodeAttemptsExhausted = errors.New("attempts_exhausted")
	ErrInvalidCode           = errors.New("invalid_code")
	ErrInvalidCredentials    = errors.New("invalid_credentials")

	// ErrVerificationWindowExpired matches ErrCodeExpired as well.
	ErrVerificationWindowExpired = fmt.Errorf("verification_window_expired: %w", ErrCodeExpired)

	// ErrUnauthenticated is matched by every access or refresh token failure.
	ErrUnauthenticated = manager.ErrUnauthenticated
)

// InvalidCodeError is returned for a wrong code and carries the attempts that remain.
type InvalidCodeError struct {
	AttemptsLeft int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid_code: %d attempts left", e.AttemptsLeft)
}

func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}

// ErrEmailNotVerified is returned by set-password when no verified code exists for the email.
var ErrEmailNotVerified = errors.New("email_not_verified")
