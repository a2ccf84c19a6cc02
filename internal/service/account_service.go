package service

import (
	"time"

	"authgate/internal/repository"
)

// SecuritySettings is the account security snapshot shown on the settings
// page.
type SecuritySettings struct {
	TwoFactorEnabled     bool       `json:"two_factor_enabled"`
	LastPasswordUpdate   *time.Time `json:"last_password_update"`
	EmailVerified        bool       `json:"email_verified"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
}

type AccountService struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	tfTokens      repository.TwoFactorTokenRepository
	verifications repository.VerificationRepository
	twoFactor     *TwoFactorService
}

func NewAccountService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tfTokens repository.TwoFactorTokenRepository,
	verifications repository.VerificationRepository,
	twoFactor *TwoFactorService,
) *AccountService {
	return &AccountService{
		users:         users,
		sessions:      sessions,
		tfTokens:      tfTokens,
		verifications: verifications,
		twoFactor:     twoFactor,
	}
}

func (s *AccountService) SecuritySettings(userID uint) (*SecuritySettings, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	out := &SecuritySettings{
		TwoFactorEnabled:   user.TwoFactorEnabled,
		LastPasswordUpdate: user.LastPasswordUpdate,
		EmailVerified:      user.EmailVerified(),
	}
	if user.TwoFactorEnabled {
		remaining, err := s.twoFactor.RemainingBackupCodes(userID)
		if err != nil {
			return nil, err
		}
		out.BackupCodesRemaining = remaining
	}
	return out, nil
}

// DeleteAccount removes the user and everything keyed to them: sessions,
// pending login handoffs, and outstanding verification rows. The deletion is
// immediate; the account gets no grace window.
func (s *AccountService) DeleteAccount(userID uint) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	if _, err := s.sessions.DeleteByUserID(userID); err != nil {
		return err
	}
	if err := s.tfTokens.DeleteByUserID(userID); err != nil {
		return err
	}
	if err := s.verifications.DeleteByEmail(user.Email); err != nil {
		return err
	}
	return s.users.Delete(userID)
}
