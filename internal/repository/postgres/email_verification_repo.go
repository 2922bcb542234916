package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
)

type EmailVerificationRepo struct {
	db *gorm.DB
}

func NewEmailVerificationRepo(db *gorm.DB) (*EmailVerificationRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("GORM DB instance is required for EmailVerificationRepo")
	}
	return &EmailVerificationRepo{db: db}, nil
}

func (r *EmailVerificationRepo) Upsert(ctx context.Context, record *entity.EmailVerification) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"code_hash", "expires_at", "attempts_left", "used", "verified_at", "created_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert verification code: %w", err)
	}
	return nil
}

func (r *EmailVerificationRepo) GetByEmail(ctx context.Context, email string) (*entity.EmailVerification, error) {
	return r.find(r.db.WithContext(ctx), email)
}

func (r *EmailVerificationRepo) GetByEmailForUpdate(ctx context.Context, email string) (*entity.EmailVerification, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), email)
}

func (r *EmailVerificationRepo) find(q *gorm.DB, email string) (*entity.EmailVerification, error) {
	var record entity.EmailVerification
	err := q.Where("email = ?", email).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}
	return &record, nil
}

func (r *EmailVerificationRepo) DecrementAttempts(ctx context.Context, email string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.EmailVerification{}).
		Where("email = ? AND attempts_left > 0", email).
		Update("attempts_left", gorm.Expr("attempts_left - 1"))
	if result.Error != nil {
		return false, fmt.Errorf("failed to decrement verification attempts: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *EmailVerificationRepo) MarkUsed(ctx context.Context, email string, verifiedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.EmailVerification{}).
		Where("email = ? AND used = ?", email, false).
		Updates(map[string]interface{}{
			"used":        true,
			"verified_at": verifiedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark verification code used: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *EmailVerificationRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&entity.EmailVerification{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete stale verification codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *EmailVerificationRepo) WithinTx(ctx context.Context, fn func(tx repository.EmailVerificationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&EmailVerificationRepo{db: tx})
	})
}
