package domain

import "time"

// RevokedBySelf marks a session revoked without a resolvable revoking
// session, e.g. via the sweep CLI.
const RevokedBySelf = "unknown"

type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	SessionTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	DeviceName       string     `gorm:"size:128" json:"device_name"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IPAddress        string     `gorm:"size:64" json:"ip_address"`
	Location         *string    `gorm:"size:255" json:"location,omitempty"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	LastActiveAt     time.Time  `gorm:"index;not null" json:"last_active_at"`
	IsRevoked        bool       `gorm:"index;not null;default:false" json:"is_revoked"`
	RevokedAt        *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedBy        *string    `gorm:"size:64" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Active reports whether the session can still authenticate requests.
// Expiry is a terminal condition folded into the timestamp check; only
// revocation is a stored state.
func (s *Session) Active(now time.Time) bool {
	return !s.IsRevoked && s.ExpiresAt.After(now)
}
