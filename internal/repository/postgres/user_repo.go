package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/finance-api/internal/domain/entity"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
)

// UserRepo implements repository.UserRepository.
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates the user repository.
func NewUserRepo(db *gorm.DB) (*UserRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("GORM DB instance is required for UserRepo")
	}
	return &UserRepo{db: db}, nil
}

// GetByEmail returns the user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// UpsertPassword inserts the account or updates the password hash of the
// existing one in a single statement, so concurrent first calls never
// produce two rows for the same email.
func (r *UserRepo) UpsertPassword(ctx context.Context, email, passwordHash string) (*entity.User, error) {
	now := time.Now().UTC()
	user := entity.User{
		Email:        email,
		PasswordHash: &passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"password_hash": passwordHash,
			"updated_at":    now,
		}),
	}).Create(&user).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", apperrors.ErrConflict, email)
		}
		return nil, fmt.Errorf("failed to upsert user password: %w", err)
	}

	return r.GetByEmail(ctx, email)
}
