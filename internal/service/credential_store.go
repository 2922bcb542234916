package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
)

// VerifiedWindowChecker reports whether an email may set its password now.
type VerifiedWindowChecker interface {
	CheckVerifiedWindow(ctx context.Context, email string) error
}

// CredentialStore hashes passwords and owns the user rows.
type CredentialStore struct {
	userRepo  repository.UserRepository
	verifier  VerifiedWindowChecker
	cost      int
	dummyHash []byte
	logger    *zap.Logger
}

// NewCredentialStore creates the store. cost is the bcrypt work factor.
func NewCredentialStore(userRepo repository.UserRepository, verifier VerifiedWindowChecker, cost int) (*CredentialStore, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verified window checker is required")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	s := &CredentialStore{
		userRepo: userRepo,
		verifier: verifier,
		cost:     cost,
		logger:   zap.L().Named("credential_store"),
	}
	dummy, err := s.HashPassword("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	s.dummyHash = []byte(dummy)
	return s, nil
}

// prehash keeps bcrypt's 72 byte input limit from truncating long passwords.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (s *CredentialStore) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *CredentialStore) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// SetPassword creates the account or replaces its password, provided the email
// was verified within the verify window.
func (s *CredentialStore) SetPassword(ctx context.Context, email, password string) (*entity.User, error) {
	email = NormalizeEmail(email)

	if err := s.verifier.CheckVerifiedWindow(ctx, email); err != nil {
		return nil, err
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.UpsertPassword(ctx, email, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to save password: %w", err)
	}

	s.logger.Info("password set", zap.Uint("user_id", user.ID))
	return user, nil
}

// Authenticate returns ErrInvalidCredentials for an unknown email, an account
// without a password, or a wrong password alike.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, prehash(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !user.HasPassword() {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, prehash(password))
		return nil, ErrInvalidCredentials
	}
	if !s.VerifyPassword(*user.PasswordHash, password) {
		s.logger.Info("wrong password", zap.Uint("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
