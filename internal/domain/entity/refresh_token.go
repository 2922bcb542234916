package entity

import "time"

// RefreshToken is one row of the refresh ledger. Only the SHA-256 digest of the
// raw token is stored. Rows are never updated except to flip Revoked to true.
type RefreshToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	TokenHash string     `gorm:"column:token_hash;size:64;not null" json:"-"`
	JTI       string     `gorm:"column:jti;size:64;not null;uniqueIndex" json:"jti"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	Revoked   bool       `gorm:"not null" json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// NewRefreshToken creates an active ledger row from a precomputed token digest.
func NewRefreshToken(userID uint, tokenHash, jti string, createdAt, expiresAt time.Time) *RefreshToken {
	return &RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		JTI:       jti,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Revoked:   false,
	}
}

// IsActive reports whether the row can still be exchanged at now.
func (rt *RefreshToken) IsActive(now time.Time) bool {
	return !rt.Revoked && rt.ExpiresAt.After(now)
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
