package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
	"github.com/yourusername/finance-api/pkg/auth"
	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// SessionAuthenticator resolves an access token to its user. It never writes.
type SessionAuthenticator struct {
	jwtService *auth.JWTService
	userRepo   repository.UserRepository
	logger     *zap.Logger
}

func NewSessionAuthenticator(jwtService *auth.JWTService, userRepo repository.UserRepository) (*SessionAuthenticator, error) {
	if jwtService == nil {
		return nil, fmt.Errorf("JWTService is required for SessionAuthenticator")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("user repository is required for SessionAuthenticator")
	}
	return &SessionAuthenticator{
		jwtService: jwtService,
		userRepo:   userRepo,
		logger:     zap.L().Named("session"),
	}, nil
}

// Authenticate returns a *manager.TokenError matching ErrUnauthenticated for
// any token or subject failure.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, raw string) (*entity.User, error) {
	claims, err := a.jwtService.ParseAccess(raw)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, manager.NewTokenError(manager.ExpiredAccessToken, "access token has expired", err)
		}
		return nil, manager.NewTokenError(manager.InvalidAccessToken, "invalid access token", err)
	}

	user, err := a.userRepo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			a.logger.Warn("access token for unknown subject", zap.String("sub", claims.Subject))
			return nil, manager.NewTokenError(manager.UserNotFound, "user not found", nil)
		}
		return nil, manager.NewTokenError(manager.DatabaseError, "failed to load user", err)
	}
	return user, nil
}
