package manager

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is matched by every TokenError that must be answered with 401.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenErrorType classifies token failures.
type TokenErrorType string

const (
	TokenGenerationFailed TokenErrorType = "TOKEN_GENERATION_FAILED"

	InvalidRefreshToken TokenErrorType = "INVALID_REFRESH_TOKEN"
	ExpiredRefreshToken TokenErrorType = "EXPIRED_REFRESH_TOKEN"
	InvalidAccessToken  TokenErrorType = "INVALID_ACCESS_TOKEN"
	ExpiredAccessToken  TokenErrorType = "EXPIRED_ACCESS_TOKEN"
	TokenRevoked        TokenErrorType = "TOKEN_REVOKED"
	UserNotFound        TokenErrorType = "USER_NOT_FOUND"

	DatabaseError TokenErrorType = "DATABASE_ERROR"
)

// TokenError describes a failure while issuing or validating tokens.
type TokenError struct {
	Type    TokenErrorType
	Message string
	Err     error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is reports ErrUnauthenticated for every client-side token failure.
func (e *TokenError) Is(target error) bool {
	if target != ErrUnauthenticated {
		return false
	}
	return e.Unauthenticated()
}

// Unauthenticated is false only for server-side failures.
func (e *TokenError) Unauthenticated() bool {
	switch e.Type {
	case TokenGenerationFailed, DatabaseError:
		return false
	default:
		return true
	}
}

// NewTokenError creates a token error.
func NewTokenError(tokenType TokenErrorType, message string, err error) *TokenError {
	return &TokenError{
		Type:    tokenType,
		Message: message,
		Err:     err,
	}
}
