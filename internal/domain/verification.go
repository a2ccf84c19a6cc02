package domain

import "time"

type VerificationType string

const (
	VerificationEmailVerify   VerificationType = "EMAIL_VERIFY"
	VerificationPasswordReset VerificationType = "PASSWORD_RESET"
)

type AttemptStage string

const (
	// StageIssue rows count against the daily issuance cap.
	StageIssue AttemptStage = "issue"
	// StageRedeem rows count against the short-window code guessing cap.
	StageRedeem AttemptStage = "redeem"
)

// TwoFactorToken is the pending-2FA handoff minted after a successful
// primary-credential check. It is deliberately not a Session: holding one
// grants nothing beyond the right to attempt the second factor.
type TwoFactorToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationToken is one issuance event of a short-lived numeric code.
// Re-issuance supersedes by inserting a new row; old rows age out.
type VerificationToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	Email     string    `gorm:"size:255;index;not null" json:"email"`
	Code      string    `gorm:"size:8;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationAttempt is the append-only rate-limit ledger. The only
// mutation ever applied is marking a password-reset issuance successful,
// which also nulls its token so the reset link cannot be replayed.
type VerificationAttempt struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"index;not null" json:"user_id"`
	Email     string           `gorm:"size:255;index;not null" json:"email"`
	Token     *string          `gorm:"size:64;index" json:"-"`
	Type      VerificationType `gorm:"size:32;index;not null" json:"type"`
	Stage     AttemptStage     `gorm:"size:16;index;not null" json:"stage"`
	Success   bool             `gorm:"not null;default:false" json:"success"`
	Timestamp time.Time        `gorm:"index;not null" json:"timestamp"`
}
