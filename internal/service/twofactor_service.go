package service

import (
	"errors"
	"time"

	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/totp"
)

type TwoFactorService struct {
	users  repository.UserRepository
	tokens repository.TwoFactorTokenRepository
	engine *totp.Engine
	box    *security.SecretBox
	hasher *security.PasswordHasher
}

func NewTwoFactorService(
	users repository.UserRepository,
	tokens repository.TwoFactorTokenRepository,
	engine *totp.Engine,
	box *security.SecretBox,
	hasher *security.PasswordHasher,
) *TwoFactorService {
	return &TwoFactorService{
		users:  users,
		tokens: tokens,
		engine: engine,
		box:    box,
		hasher: hasher,
	}
}

// GenerateSetup produces enrollment material for the client. Nothing is
// persisted until Enable proves the user captured the secret, so an
// already-enrolled user can run setup again to rotate their secret without
// disturbing the active enrollment.
func (s *TwoFactorService) GenerateSetup(userID uint) (*totp.Setup, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	return s.engine.GenerateSetup(user.Email)
}

// Enable turns two-factor on after the user proves possession of the
// secret with a live code. The secret is sealed at rest and the backup
// codes are stored only as hashes; the plaintext list returned here is the
// single time the user ever sees it. For an already-enrolled user the new
// secret and backup codes replace the old ones wholesale.
func (s *TwoFactorService) Enable(userID uint, secret, code string, backupCodes []string) ([]string, error) {
	if _, err := s.users.FindByID(userID); err != nil {
		return nil, err
	}
	if !s.engine.Verify(code, secret) {
		observability.RecordTwoFactorVerification("totp", "enable_rejected")
		return nil, ErrInvalidCode
	}
	if len(backupCodes) == 0 {
		var err error
		backupCodes, err = totp.GenerateBackupCodes(totp.BackupCodeCount)
		if err != nil {
			return nil, err
		}
	}
	sealed, err := s.box.Seal(secret)
	if err != nil {
		return nil, err
	}
	if err := s.users.EnableTwoFactor(userID, sealed, totp.HashBackupCodes(backupCodes)); err != nil {
		return nil, err
	}
	observability.RecordTwoFactorVerification("totp", "enabled")
	return backupCodes, nil
}

// Disable requires the current password and a live code, then wipes the
// secret, the hashed backup codes, and any pending login handoffs.
func (s *TwoFactorService) Disable(userID uint, password, code string) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(*user.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return ErrInvalidCredentials
		}
		return err
	}
	ok, err := s.verifySecond(user.ID, *user.TwoFactorSecret, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	if err := s.users.DisableTwoFactor(userID); err != nil {
		return err
	}
	observability.RecordTwoFactorVerification("totp", "disabled")
	return s.tokens.DeleteByUserID(userID)
}

// VerifyTOTP checks a live authenticator code for an enrolled user.
func (s *TwoFactorService) VerifyTOTP(userID uint, code string) (bool, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return false, err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return false, ErrTwoFactorNotEnabled
	}
	secret, err := s.box.Open(*user.TwoFactorSecret)
	if err != nil {
		return false, err
	}
	ok := s.engine.Verify(code, secret)
	if ok {
		observability.RecordTwoFactorVerification("totp", "accepted")
	} else {
		observability.RecordTwoFactorVerification("totp", "rejected")
	}
	return ok, nil
}

// ConsumeBackup redeems one backup code. The spend is atomic at the row
// level, so the same code presented twice concurrently succeeds at most
// once.
func (s *TwoFactorService) ConsumeBackup(userID uint, code string) (bool, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return false, err
	}
	if !user.TwoFactorEnabled {
		return false, ErrTwoFactorNotEnabled
	}
	ok, err := s.users.SpendBackupCode(userID, totp.HashBackupCode(code))
	if err != nil {
		return false, err
	}
	if ok {
		observability.RecordTwoFactorVerification("backup", "accepted")
	} else {
		observability.RecordTwoFactorVerification("backup", "rejected")
	}
	return ok, nil
}

// verifySecond accepts either a live TOTP code or, failing that, a backup
// code against the sealed secret.
func (s *TwoFactorService) verifySecond(userID uint, sealedSecret, code string) (bool, error) {
	secret, err := s.box.Open(sealedSecret)
	if err != nil {
		return false, err
	}
	if s.engine.Verify(code, secret) {
		return true, nil
	}
	return s.users.SpendBackupCode(userID, totp.HashBackupCode(code))
}

// RemainingBackupCodes reports how many unredeemed codes the user holds.
func (s *TwoFactorService) RemainingBackupCodes(userID uint) (int, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return 0, err
	}
	if !user.TwoFactorEnabled {
		return 0, ErrTwoFactorNotEnabled
	}
	hashes, err := repository.DecodeBackupCodes(user.BackupCodes)
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// PruneExpiredTokens drops pending login handoffs past their deadline.
func (s *TwoFactorService) PruneExpiredTokens(now time.Time) (int64, error) {
	return s.tokens.DeleteExpiredBefore(now)
}
