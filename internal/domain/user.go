package domain

import "time"

type User struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Name               string     `gorm:"size:255" json:"name"`
	Email              string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash       *string    `gorm:"size:128" json:"-"`
	EmailVerifiedAt    *time.Time `json:"email_verified_at,omitempty"`
	LastPasswordUpdate *time.Time `json:"-"`
	TwoFactorEnabled   bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	TwoFactorSecret    *string    `gorm:"size:512" json:"-"`
	BackupCodes        string     `gorm:"type:text" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (u *User) EmailVerified() bool { return u.EmailVerifiedAt != nil }
