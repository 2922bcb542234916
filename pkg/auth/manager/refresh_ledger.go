package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
	"github.com/yourusername/finance-api/pkg/auth"
)

// RefreshLedger validates, rotates and revokes refresh tokens against the ledger table.
type RefreshLedger struct {
	jwtService       *auth.JWTService
	refreshTokenRepo repository.RefreshTokenRepository
	issuer           *TokenIssuer
	logger           *zap.Logger
}

// NewRefreshLedger creates the ledger.
func NewRefreshLedger(jwtService *auth.JWTService, refreshTokenRepo repository.RefreshTokenRepository, issuer *TokenIssuer) (*RefreshLedger, error) {
	if jwtService == nil {
		return nil, fmt.Errorf("JWTService is required for RefreshLedger")
	}
	if refreshTokenRepo == nil {
		return nil, fmt.Errorf("RefreshTokenRepository is required for RefreshLedger")
	}
	if issuer == nil {
		return nil, fmt.Errorf("TokenIssuer is required for RefreshLedger")
	}
	return &RefreshLedger{
		jwtService:       jwtService,
		refreshTokenRepo: refreshTokenRepo,
		issuer:           issuer,
		logger:           zap.L().Named("refresh_ledger"),
	}, nil
}

// ValidateAndConsume exchanges a raw refresh token for a new pair. The presented
// token is revoked in the same transaction that stores its replacement; a caller
// that loses the revoke race gets TokenRevoked and no pair.
func (l *RefreshLedger) ValidateAndConsume(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := l.jwtService.ParseRefresh(raw)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, NewTokenError(ExpiredRefreshToken, "refresh token has expired", err)
		}
		return nil, NewTokenError(InvalidRefreshToken, "invalid refresh token", err)
	}

	row, err := l.refreshTokenRepo.FindForSubject(ctx, claims.Subject, claims.ID, HashToken(raw))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, NewTokenError(InvalidRefreshToken, "refresh token not found", nil)
		}
		return nil, NewTokenError(DatabaseError, "failed to look up refresh token", err)
	}

	now := l.jwtService.Now()
	if row.Revoked {
		l.logger.Warn("revoked refresh token presented", zap.Uint("user_id", row.UserID), zap.String("jti", row.JTI))
		return nil, NewTokenError(TokenRevoked, "refresh token has been revoked", nil)
	}
	if !row.ExpiresAt.After(now) {
		return nil, NewTokenError(ExpiredRefreshToken, "refresh token has expired", nil)
	}

	var pair *TokenPair
	err = l.refreshTokenRepo.WithinTx(ctx, func(tx repository.RefreshTokenRepository) error {
		flipped, err := tx.RevokeIfActive(ctx, row.JTI, now)
		if err != nil {
			return NewTokenError(DatabaseError, "failed to revoke refresh token", err)
		}
		if !flipped {
			return NewTokenError(TokenRevoked, "refresh token has been revoked", nil)
		}
		pair, err = l.issuer.IssuePairAndStoreTx(ctx, tx, claims.Subject, row.UserID)
		return err
	})
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return nil, tokenErr
		}
		return nil, NewTokenError(DatabaseError, "failed to rotate refresh token", err)
	}

	l.logger.Info("refresh token rotated",
		zap.Uint("user_id", row.UserID),
		zap.String("old_jti", row.JTI),
		zap.String("new_jti", pair.JTI))
	return pair, nil
}

// Revoke marks the row with jti revoked. Revoking an unknown or already
// revoked jti is not an error.
func (l *RefreshLedger) Revoke(ctx context.Context, jti string) error {
	if _, err := l.refreshTokenRepo.RevokeIfActive(ctx, jti, l.jwtService.Now()); err != nil {
		return NewTokenError(DatabaseError, "failed to revoke refresh token", err)
	}
	return nil
}

// RevokeRaw revokes the jti carried by raw. A token that does not decode is ignored.
func (l *RefreshLedger) RevokeRaw(ctx context.Context, raw string) error {
	claims, err := l.jwtService.ParseRefresh(raw)
	if err != nil {
		l.logger.Debug("ignoring undecodable refresh token on revoke", zap.Error(err))
		return nil
	}
	return l.Revoke(ctx, claims.ID)
}
