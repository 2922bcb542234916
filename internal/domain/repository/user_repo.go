package repository

import (
	"context"

	"github.com/yourusername/finance-api/internal/domain/entity"
)

// UserRepository defines account persistence.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	// UpsertPassword creates the account for email or replaces its password hash,
	// returning the stored row.
	UpsertPassword(ctx context.Context, email, passwordHash string) (*entity.User, error)
}
