package service

import (
	"context"
	"errors"
	"time"

	"authgate/internal/domain"
	"authgate/internal/mailer"
	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/security"
)

// LoginResult is the outcome of a primary-credential check. Exactly one of
// Session or TwoFactorToken is set: an enrolled user gets a short-lived
// handoff token and no session until the second factor clears.
type LoginResult struct {
	Session           *domain.Session
	SessionToken      string
	TwoFactorRequired bool
	TwoFactorToken    string
	TwoFactorExpires  time.Time
}

type AuthService struct {
	users     repository.UserRepository
	tfTokens  repository.TwoFactorTokenRepository
	sessions  *SessionService
	twoFactor *TwoFactorService
	hasher    *security.PasswordHasher
	mail      mailer.Mailer
	tfTTL     time.Duration
}

func NewAuthService(
	users repository.UserRepository,
	tfTokens repository.TwoFactorTokenRepository,
	sessions *SessionService,
	twoFactor *TwoFactorService,
	hasher *security.PasswordHasher,
	mail mailer.Mailer,
	tfTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:     users,
		tfTokens:  tfTokens,
		sessions:  sessions,
		twoFactor: twoFactor,
		hasher:    hasher,
		mail:      mail,
		tfTTL:     tfTTL,
	}
}

// Register creates a password account. The email starts unverified; the
// caller is expected to trigger a verification code next.
func (s *AuthService) Register(name, email, password string) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: &hash,
	}
	if err := s.users.Create(user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// Authenticate runs the primary-credential check. Missing accounts and
// wrong passwords collapse to the same error. Enrolled users receive a
// pending-2FA token instead of a session.
func (s *AuthService) Authenticate(ctx context.Context, email, password, ipAddress, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin("password", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil {
		observability.RecordAuthLogin("password", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(*user.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			observability.RecordAuthLogin("password", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.TwoFactorEnabled {
		pending, err := mintTwoFactorHandoff(s.tfTokens, user.ID, s.tfTTL)
		if err != nil {
			return nil, err
		}
		observability.RecordAuthLogin("password", "pending_2fa")
		return &LoginResult{
			TwoFactorRequired: true,
			TwoFactorToken:    pending.Token,
			TwoFactorExpires:  pending.ExpiresAt,
		}, nil
	}

	return s.establish(ctx, user, "password", ipAddress, userAgent)
}

// CompleteTwoFactor exchanges a pending-2FA token plus a second factor for
// a real session. The handoff token burns exactly once, even under
// concurrent submission.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, token, code string, useBackup bool, ipAddress, userAgent string) (*LoginResult, error) {
	pending, err := s.tfTokens.FindByToken(token)
	if err != nil {
		if errors.Is(err, repository.ErrTwoFactorTokenNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if pending.Used || time.Now().UTC().After(pending.ExpiresAt) {
		return nil, ErrInvalidOrExpiredToken
	}

	var ok bool
	if useBackup {
		ok, err = s.twoFactor.ConsumeBackup(pending.UserID, code)
	} else {
		ok, err = s.twoFactor.VerifyTOTP(pending.UserID, code)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	burned, err := s.tfTokens.MarkUsed(pending.ID)
	if err != nil {
		return nil, err
	}
	if !burned {
		// Lost the race to a parallel submission of the same token.
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.users.FindByID(pending.UserID)
	if err != nil {
		return nil, err
	}
	provider := "password+totp"
	if useBackup {
		provider = "password+backup"
	}
	return s.establish(ctx, user, provider, ipAddress, userAgent)
}

// ChangePassword rotates the password for a signed-in user and revokes
// every other session.
func (s *AuthService) ChangePassword(userID uint, currentPassword, newPassword, currentSessionToken string) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(*user.PasswordHash, currentPassword); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return ErrInvalidCredentials
		}
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(userID, hash, time.Now().UTC()); err != nil {
		return err
	}
	_, err = s.sessions.RevokeOthers(userID, currentSessionToken, true)
	if errors.Is(err, ErrNoCurrentSession) {
		return nil
	}
	return err
}

func mintTwoFactorHandoff(tokens repository.TwoFactorTokenRepository, userID uint, ttl time.Duration) (*domain.TwoFactorToken, error) {
	raw, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	pending := &domain.TwoFactorToken{
		Token:     raw,
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := tokens.Create(pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *AuthService) establish(ctx context.Context, user *domain.User, provider, ipAddress, userAgent string) (*LoginResult, error) {
	session, token, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		observability.RecordAuthLogin(provider, "error")
		return nil, err
	}
	location := "Unknown"
	if session.Location != nil {
		location = *session.Location
	}
	// Alert failures never block a login.
	_ = s.mail.SendLoginAlert(ctx, user.Email, session.DeviceName, location)
	observability.RecordAuthLogin(provider, "success")
	return &LoginResult{Session: session, SessionToken: token}, nil
}
