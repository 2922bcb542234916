package repository

import (
	"context"
	"time"

	"github.com/yourusername/finance-api/internal/domain/entity"
)

// EmailVerificationRepository persists the one-row-per-email code records.
type EmailVerificationRepository interface {
	// Upsert inserts the record or overwrites every field of the existing row for the same email.
	Upsert(ctx context.Context, record *entity.EmailVerification) error

	GetByEmail(ctx context.Context, email string) (*entity.EmailVerification, error)

	// GetByEmailForUpdate reads the row and locks it until the surrounding transaction ends.
	GetByEmailForUpdate(ctx context.Context, email string) (*entity.EmailVerification, error)

	// DecrementAttempts lowers attempts_left by one if it is still positive.
	// Returns false when nothing was decremented.
	DecrementAttempts(ctx context.Context, email string) (bool, error)

	// MarkUsed flips used to true and stamps verified_at if the row is not used yet.
	// Returns false when another caller already consumed the code.
	MarkUsed(ctx context.Context, email string, verifiedAt time.Time) (bool, error)

	// DeleteCreatedBefore removes records created before the cutoff.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithinTx runs fn with a repository bound to a single transaction.
	WithinTx(ctx context.Context, fn func(tx EmailVerificationRepository) error) error
}
