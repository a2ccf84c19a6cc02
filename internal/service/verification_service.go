package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"authgate/internal/domain"
	"authgate/internal/mailer"
	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/security"
)

const verificationCodeDigits = 6

type VerificationLimits struct {
	CodeTTL        time.Duration
	EmailVerifyCap int64
	ResetCap       int64
	RedeemCap      int64
	RedeemWindow   time.Duration
	ResetCooldown  time.Duration
}

type VerificationService struct {
	users         repository.UserRepository
	verifications repository.VerificationRepository
	sessions      repository.SessionRepository
	hasher        *security.PasswordHasher
	mail          mailer.Mailer
	limits        VerificationLimits
	resetBaseURL  string
}

func NewVerificationService(
	users repository.UserRepository,
	verifications repository.VerificationRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	mail mailer.Mailer,
	limits VerificationLimits,
	resetBaseURL string,
) *VerificationService {
	return &VerificationService{
		users:         users,
		verifications: verifications,
		sessions:      sessions,
		hasher:        hasher,
		mail:          mail,
		limits:        limits,
		resetBaseURL:  resetBaseURL,
	}
}

type IssueResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueEmailVerification mints a fresh 6-digit code for the user's address
// and emails it. Each issuance counts against a rolling 24-hour cap whether
// or not the code is ever used.
func (s *VerificationService) IssueEmailVerification(ctx context.Context, userID uint) (*IssueResult, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified() {
		return nil, ErrInvalidOperation
	}
	return s.issue(ctx, user, domain.VerificationEmailVerify)
}

// RequestPasswordReset issues a reset code for the address if an account
// exists. Callers must fold the not-found case into the same response shape
// they give on success; only the rate-limit rejection is ever distinguishable.
func (s *VerificationService) RequestPasswordReset(ctx context.Context, email string) (*IssueResult, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, err
	}
	return s.issue(ctx, user, domain.VerificationPasswordReset)
}

func (s *VerificationService) issue(ctx context.Context, user *domain.User, vtype domain.VerificationType) (*IssueResult, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	count, err := s.verifications.CountAttempts(user.Email, vtype, domain.StageIssue, since)
	if err != nil {
		return nil, err
	}
	limit := s.limits.EmailVerifyCap
	if vtype == domain.VerificationPasswordReset {
		limit = s.limits.ResetCap
	}
	if count >= limit {
		observability.RecordVerificationCodeIssued(string(vtype), "rate_limited")
		return nil, ErrRateLimited
	}

	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	code, err := security.NewNumericCode(verificationCodeDigits)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.limits.CodeTTL)
	if err := s.verifications.CreateToken(&domain.VerificationToken{
		Token:     token,
		Email:     user.Email,
		Code:      code,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}
	tokenCopy := token
	if err := s.verifications.CreateAttempt(&domain.VerificationAttempt{
		UserID: user.ID,
		Email:  user.Email,
		Token:  &tokenCopy,
		Type:   vtype,
		Stage:  domain.StageIssue,
	}); err != nil {
		return nil, err
	}

	switch vtype {
	case domain.VerificationPasswordReset:
		err = s.mail.SendPasswordReset(ctx, user.Email, fmt.Sprintf("%s?token=%s&code=%s", s.resetBaseURL, token, code))
	default:
		err = s.mail.SendVerificationCode(ctx, user.Email, code, token)
	}
	if err != nil {
		return nil, err
	}
	observability.RecordVerificationCodeIssued(string(vtype), "issued")
	return &IssueResult{Token: token, ExpiresAt: expiresAt}, nil
}

// CodeValidation reports a successful redemption along with how much of the
// short-window guessing budget the caller had consumed going in.
type CodeValidation struct {
	Record       *domain.VerificationToken
	AttemptsUsed int64
	MaxAttempts  int64
}

// ValidateCode checks a submitted code against its issuance. Every call
// spends one redemption attempt first; a caller over the short-window cap
// gets ErrAttemptsExceeded without the code even being compared. A correct
// code wipes the redemption ledger so the next issuance starts clean.
func (s *VerificationService) ValidateCode(token, code string, vtype domain.VerificationType) (*CodeValidation, error) {
	now := time.Now().UTC()
	record, err := s.verifications.FindToken(token)
	if err != nil {
		if errors.Is(err, repository.ErrVerificationTokenNotFound) {
			observability.RecordVerificationCodeValidated(string(vtype), "unknown_token")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if now.After(record.ExpiresAt) {
		observability.RecordVerificationCodeValidated(string(vtype), "expired")
		return nil, ErrInvalidOrExpiredToken
	}

	windowStart := now.Add(-s.limits.RedeemWindow)
	attempts, err := s.verifications.CountAttempts(record.Email, vtype, domain.StageRedeem, windowStart)
	if err != nil {
		return nil, err
	}
	if attempts >= s.limits.RedeemCap {
		observability.RecordVerificationCodeValidated(string(vtype), "attempts_exceeded")
		return nil, ErrAttemptsExceeded
	}

	match := subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1
	user, err := s.users.FindByEmail(record.Email)
	if err != nil {
		return nil, err
	}
	if err := s.verifications.CreateAttempt(&domain.VerificationAttempt{
		UserID:  user.ID,
		Email:   record.Email,
		Type:    vtype,
		Stage:   domain.StageRedeem,
		Success: match,
	}); err != nil {
		return nil, err
	}
	if !match {
		observability.RecordVerificationCodeValidated(string(vtype), "wrong_code")
		return nil, &CodeMismatchError{AttemptsUsed: attempts + 1, MaxAttempts: s.limits.RedeemCap}
	}
	if err := s.verifications.ClearRedemptions(record.Email, vtype, windowStart); err != nil {
		return nil, err
	}
	observability.RecordVerificationCodeValidated(string(vtype), "valid")
	return &CodeValidation{Record: record, AttemptsUsed: attempts + 1, MaxAttempts: s.limits.RedeemCap}, nil
}

// ConfirmEmail redeems an email-verification code and flips the account to
// verified.
func (s *VerificationService) ConfirmEmail(token, code string) error {
	outcome, err := s.ValidateCode(token, code, domain.VerificationEmailVerify)
	if err != nil {
		return err
	}
	record := outcome.Record
	user, err := s.users.FindByEmail(record.Email)
	if err != nil {
		return err
	}
	if err := s.users.MarkEmailVerified(user.ID, time.Now().UTC()); err != nil {
		return err
	}
	return s.verifications.DeleteToken(record.Token)
}

// VerifyResetToken checks a reset code without consuming the reset. The
// client calls this when the user lands on the reset page, before asking
// for a new password.
func (s *VerificationService) VerifyResetToken(token, code string) error {
	_, err := s.ValidateCode(token, code, domain.VerificationPasswordReset)
	return err
}

// ConfirmPasswordReset applies a new password for the reset identified by
// token. The once-per-24h rule is enforced here, at apply time, so a user
// who requested several links can still only complete one. All other
// sessions are revoked when the password changes.
func (s *VerificationService) ConfirmPasswordReset(token, code, newPassword string) error {
	outcome, err := s.ValidateCode(token, code, domain.VerificationPasswordReset)
	if err != nil {
		return err
	}
	record := outcome.Record
	user, err := s.users.FindByEmail(record.Email)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if user.LastPasswordUpdate != nil && now.Sub(*user.LastPasswordUpdate) < s.limits.ResetCooldown {
		return ErrResetCooldown
	}
	attempt, err := s.verifications.FindResetAttemptByToken(token, now.Add(-24*time.Hour))
	if err != nil {
		if errors.Is(err, repository.ErrVerificationAttemptNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(user.ID, hash, now); err != nil {
		return err
	}
	if err := s.verifications.MarkAttemptSuccessful(attempt.ID); err != nil {
		return err
	}
	if err := s.verifications.DeleteToken(record.Token); err != nil {
		return err
	}
	// A password reset invalidates every session. The user signs in again.
	_, err = s.sessions.RevokeOthersByUser(user.ID, 0, "password-reset", true)
	return err
}
