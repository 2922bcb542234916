package repository

import (
	"context"
	"time"

	"github.com/yourusername/finance-api/internal/domain/entity"
)

// RefreshTokenRepository is the refresh token ledger.
type RefreshTokenRepository interface {
	// Create appends a new ledger row.
	Create(ctx context.Context, token *entity.RefreshToken) error

	// FindForSubject returns the row that matches the owner email, jti and token digest together.
	FindForSubject(ctx context.Context, email, jti, tokenHash string) (*entity.RefreshToken, error)

	// RevokeIfActive sets revoked=true for jti only if it was still false.
	// Returns true when this call performed the flip.
	RevokeIfActive(ctx context.Context, jti string, revokedAt time.Time) (bool, error)

	// ListInactiveBefore returns rows that are revoked or expired and were created before the cutoff.
	ListInactiveBefore(ctx context.Context, cutoff, now time.Time, limit int) ([]entity.RefreshToken, error)

	// DeleteByIDs physically removes rows. Only operator tooling calls it.
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)

	// WithinTx runs fn with a repository bound to a single transaction.
	WithinTx(ctx context.Context, fn func(tx RefreshTokenRepository) error) error
}
