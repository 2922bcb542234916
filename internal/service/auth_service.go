package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// AuthService wires the code, credential and token components into the auth flows.
type AuthService struct {
	codes    *CodeIssuer
	creds    *CredentialStore
	issuer   *manager.TokenIssuer
	ledger   *manager.RefreshLedger
	sessions *SessionAuthenticator
	logger   *zap.Logger
}

// NewAuthService creates the service and returns an error when a dependency is missing.
func NewAuthService(
	codes *CodeIssuer,
	creds *CredentialStore,
	issuer *manager.TokenIssuer,
	ledger *manager.RefreshLedger,
	sessions *SessionAuthenticator,
) (*AuthService, error) {
	if codes == nil {
		return nil, fmt.Errorf("CodeIssuer is required for AuthService")
	}
	if creds == nil {
		return nil, fmt.Errorf("CredentialStore is required for AuthService")
	}
	if issuer == nil {
		return nil, fmt.Errorf("TokenIssuer is required for AuthService")
	}
	if ledger == nil {
		return nil, fmt.Errorf("RefreshLedger is required for AuthService")
	}
	if sessions == nil {
		return nil, fmt.Errorf("SessionAuthenticator is required for AuthService")
	}
	return &AuthService{
		codes:    codes,
		creds:    creds,
		issuer:   issuer,
		ledger:   ledger,
		sessions: sessions,
		logger:   zap.L().Named("auth"),
	}, nil
}

func (s *AuthService) RequestCode(ctx context.Context, email string) error {
	return s.codes.RequestCode(ctx, email)
}

func (s *AuthService) VerifyCode(ctx context.Context, email, code string) error {
	return s.codes.VerifyCode(ctx, email, code)
}

// SetPassword stores the password of a freshly verified email and signs the user in.
func (s *AuthService) SetPassword(ctx context.Context, email, password string) (*manager.TokenPair, error) {
	user, err := s.creds.SetPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issuer.IssuePairAndStore(ctx, user.Email, user.ID)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*manager.TokenPair, error) {
	user, err := s.creds.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	pair, err := s.issuer.IssuePairAndStore(ctx, user.Email, user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", zap.Uint("user_id", user.ID))
	return pair, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*manager.TokenPair, error) {
	return s.ledger.ValidateAndConsume(ctx, refreshToken)
}

// Logout revokes the refresh token if it decodes. It never fails.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if err := s.ledger.RevokeRaw(ctx, refreshToken); err != nil {
		s.logger.Error("logout revoke failed", zap.Error(err))
	}
}

// Authenticate resolves an access token to its user.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*entity.User, error) {
	return s.sessions.Authenticate(ctx, accessToken)
}
