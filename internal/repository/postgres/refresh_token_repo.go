package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
)

// RefreshTokenRepo implements repository.RefreshTokenRepository with PostgreSQL and GORM.
type RefreshTokenRepo struct {
	db *gorm.DB
}

// NewRefreshTokenRepo creates the ledger repository.
func NewRefreshTokenRepo(gormDB *gorm.DB) (*RefreshTokenRepo, error) {
	if gormDB == nil {
		return nil, fmt.Errorf("GORM DB instance is required for RefreshTokenRepo")
	}
	return &RefreshTokenRepo{db: gormDB}, nil
}

// Create stores a new ledger row. GORM fills token.ID.
func (r *RefreshTokenRepo) Create(ctx context.Context, token *entity.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refresh token jti already stored", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	if token.ID == 0 {
		return fmt.Errorf("failed to get ID after creating refresh token")
	}
	return nil
}

// FindForSubject looks the row up by owner email, jti and digest at once.
// Revocation and expiry are left to the caller.
func (r *RefreshTokenRepo) FindForSubject(ctx context.Context, email, jti, tokenHash string) (*entity.RefreshToken, error) {
	var token entity.RefreshToken
	err := r.db.WithContext(ctx).
		Joins("JOIN users ON users.id = refresh_tokens.user_id").
		Where("users.email = ? AND refresh_tokens.jti = ? AND refresh_tokens.token_hash = ?", email, jti, tokenHash).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &token, nil
}

// RevokeIfActive flips revoked for jti. Only one of several concurrent callers
// observes true.
func (r *RefreshTokenRepo) RevokeIfActive(ctx context.Context, jti string, revokedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.RefreshToken{}).
		Where("jti = ? AND revoked = ?", jti, false).
		Updates(map[string]interface{}{
			"revoked":    true,
			"revoked_at": revokedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *RefreshTokenRepo) ListInactiveBefore(ctx context.Context, cutoff, now time.Time, limit int) ([]entity.RefreshToken, error) {
	var tokens []entity.RefreshToken
	q := r.db.WithContext(ctx).
		Where("created_at < ? AND (revoked = ? OR expires_at <= ?)", cutoff, true, now).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("failed to list inactive refresh tokens: %w", err)
	}
	return tokens, nil
}

func (r *RefreshTokenRepo) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&entity.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *RefreshTokenRepo) WithinTx(ctx context.Context, fn func(tx repository.RefreshTokenRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RefreshTokenRepo{db: tx})
	})
}
