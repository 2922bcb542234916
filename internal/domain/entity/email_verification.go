package entity

import "time"

// EmailVerification is the single live one-time code record for an email.
// A new code request overwrites the row.
type EmailVerification struct {
	Email        string     `gorm:"primaryKey;size:254" json:"email"`
	CodeHash     string     `gorm:"size:64;not null" json:"-"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	AttemptsLeft int        `gorm:"not null" json:"attempts_left"`
	Used         bool       `gorm:"not null" json:"used"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
}

func (EmailVerification) TableName() string {
	return "email_codes"
}

// IsExpired reports whether the code can no longer be verified at now.
func (e *EmailVerification) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *EmailVerification) HasAttemptsLeft() bool {
	return e.AttemptsLeft > 0
}

// VerifiedWithin reports whether the code was verified no longer than window before now.
func (e *EmailVerification) VerifiedWithin(now time.Time, window time.Duration) bool {
	if !e.Used || e.VerifiedAt == nil {
		return false
	}
	return now.Sub(*e.VerifiedAt) <= window
}
