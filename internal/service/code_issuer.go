package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
)

const resendCooldownKeyPrefix = "auth:code_cooldown:"

// CodeIssuerConfig holds the code lifecycle settings.
type CodeIssuerConfig struct {
	CodeTTL        time.Duration
	MaxAttempts    int
	VerifyWindow   time.Duration
	ResendCooldown time.Duration
	Pepper         string
}

// CodeIssuer issues and verifies one-time email codes.
type CodeIssuer struct {
	repo         repository.EmailVerificationRepository
	emailService EmailService
	cache        repository.CacheRepository
	cfg          CodeIssuerConfig
	now          func() time.Time
	logger       *zap.Logger
}

// NewCodeIssuer creates the issuer. cache may be nil, which disables the resend cooldown.
func NewCodeIssuer(
	repo repository.EmailVerificationRepository,
	emailService EmailService,
	cache repository.CacheRepository,
	cfg CodeIssuerConfig,
) (*CodeIssuer, error) {
	if repo == nil {
		return nil, fmt.Errorf("email verification repository is required")
	}
	if emailService == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.VerifyWindow <= 0 {
		cfg.VerifyWindow = 5 * time.Minute
	}

	return &CodeIssuer{
		repo:         repo,
		emailService: emailService,
		cache:        cache,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       zap.L().Named("code_issuer"),
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (s *CodeIssuer) SetClock(now func() time.Time) {
	s.now = now
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestCode replaces any existing code for email with a fresh one and mails it.
// Delivery failures are logged and not returned.
func (s *CodeIssuer) RequestCode(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	cooldownKey := resendCooldownKeyPrefix + email
	cooldownHeld := false
	if s.cache != nil && s.cfg.ResendCooldown > 0 {
		acquired, err := s.cache.SetNX(ctx, cooldownKey, 1, s.cfg.ResendCooldown)
		if err != nil {
			s.logger.Warn("resend cooldown check failed, issuing code anyway", zap.Error(err))
		} else if !acquired {
			s.logger.Info("code request within cooldown, skipped", zap.String("email", email))
			return nil
		}
		cooldownHeld = err == nil
	}

	code, err := generateVerificationCode()
	if err != nil {
		s.releaseCooldown(ctx, cooldownHeld, cooldownKey)
		return fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.now()
	record := &entity.EmailVerification{
		Email:        email,
		CodeHash:     s.hashCode(email, code),
		ExpiresAt:    now.Add(s.cfg.CodeTTL),
		AttemptsLeft: s.cfg.MaxAttempts,
		Used:         false,
		VerifiedAt:   nil,
		CreatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		s.releaseCooldown(ctx, cooldownHeld, cooldownKey)
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	idempotencyKey := fmt.Sprintf("email-code:%s:%d", email, now.UnixNano())
	if err := s.emailService.SendVerificationCode(ctx, email, code, idempotencyKey); err != nil {
		s.logger.Error("failed to send verification code", zap.String("email", email), zap.Error(err))
		return nil
	}

	s.logger.Info("verification code issued", zap.String("email", email))
	return nil
}

// releaseCooldown drops a cooldown taken by a request that stored no code,
// so the next request is not silently skipped.
func (s *CodeIssuer) releaseCooldown(ctx context.Context, held bool, key string) {
	if !held {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to release resend cooldown", zap.String("key", key), zap.Error(err))
	}
}

// VerifyCode checks code for email. The row stays locked for the whole check so
// concurrent wrong guesses cannot consume the same attempt twice. A wrong code
// commits the decrement and returns *InvalidCodeError.
func (s *CodeIssuer) VerifyCode(ctx context.Context, email, code string) error {
	email = NormalizeEmail(email)

	var invalid *InvalidCodeError
	err := s.repo.WithinTx(ctx, func(tx repository.EmailVerificationRepository) error {
		rec, err := tx.GetByEmailForUpdate(ctx, email)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return ErrCodeNotRequested
			}
			return err
		}

		now := s.now()
		switch {
		case rec.Used:
			return ErrCodeAlreadyUsed
		case rec.IsExpired(now):
			return ErrCodeExpired
		case !rec.HasAttemptsLeft():
			return ErrCodeAttemptsExhausted
		}

		if subtle.ConstantTimeCompare([]byte(s.hashCode(email, code)), []byte(rec.CodeHash)) != 1 {
			decremented, err := tx.DecrementAttempts(ctx, email)
			if err != nil {
				return err
			}
			if !decremented {
				return ErrCodeAttemptsExhausted
			}
			invalid = &InvalidCodeError{AttemptsLeft: rec.AttemptsLeft - 1}
			return nil
		}

		marked, err := tx.MarkUsed(ctx, email, now)
		if err != nil {
			return err
		}
		if !marked {
			return ErrCodeAlreadyUsed
		}
		return nil
	})
	if err != nil {
		return err
	}
	if invalid != nil {
		s.logger.Info("wrong verification code", zap.String("email", email), zap.Int("attempts_left", invalid.AttemptsLeft))
		return invalid
	}

	s.logger.Info("email verified", zap.String("email", email))
	return nil
}

// CheckVerifiedWindow succeeds when email was verified no longer than the
// verify window ago.
func (s *CodeIssuer) CheckVerifiedWindow(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	rec, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ErrEmailNotVerified
		}
		return err
	}
	if !rec.Used || rec.VerifiedAt == nil {
		return ErrEmailNotVerified
	}
	if !rec.VerifiedWithin(s.now(), s.cfg.VerifyWindow) {
		return ErrVerificationWindowExpired
	}
	return nil
}

func (s *CodeIssuer) hashCode(email, code string) string {
	sum := sha256.Sum256([]byte(s.cfg.Pepper + ":" + email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func generateVerificationCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
