package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate/internal/domain"
	"authgate/internal/geo"
	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/security"

	"github.com/google/uuid"
)

const invalidReason = "expired-or-revoked"

type SessionView struct {
	ID           uint       `json:"id"`
	DeviceName   string     `json:"device_name"`
	Location     *string    `json:"location,omitempty"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	LastActiveAt time.Time  `json:"last_active_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	IsCurrent    bool       `json:"is_current"`
}

type ValidationResult struct {
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
	ShouldLogout bool   `json:"should_logout"`
}

type SessionService struct {
	sessions   repository.SessionRepository
	geo        geo.Resolver
	pepper     string
	ttl        time.Duration
	touchEvery time.Duration
}

func NewSessionService(sessions repository.SessionRepository, resolver geo.Resolver, pepper string, ttl, touchEvery time.Duration) *SessionService {
	if resolver == nil {
		resolver = geo.NoopResolver{}
	}
	return &SessionService{
		sessions:   sessions,
		geo:        resolver,
		pepper:     pepper,
		ttl:        ttl,
		touchEvery: touchEvery,
	}
}

// Create mints a session for a freshly authenticated user and returns the
// opaque token alongside it. Only the peppered hash is stored.
func (s *SessionService) Create(ctx context.Context, userID uint, ipAddress, userAgent string) (*domain.Session, string, error) {
	token := uuid.NewString()
	now := time.Now().UTC()
	session := &domain.Session{
		UserID:           userID,
		SessionTokenHash: security.HashSessionToken(token, s.pepper),
		DeviceName:       parseDeviceName(userAgent),
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
		Location:         s.geo.Locate(ctx, ipAddress),
		ExpiresAt:        now.Add(s.ttl),
		LastActiveAt:     now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, "", err
	}
	return session, token, nil
}

// ResolveCurrent maps a presented session token onto its active session row.
// Returns ErrNoCurrentSession if the token matches nothing usable.
func (s *SessionService) ResolveCurrent(sessionToken string) (*domain.Session, error) {
	if sessionToken == "" {
		return nil, ErrNoCurrentSession
	}
	session, err := s.sessions.FindByTokenHash(security.HashSessionToken(sessionToken, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrNoCurrentSession
		}
		return nil, err
	}
	if !session.Active(time.Now()) {
		return nil, ErrNoCurrentSession
	}
	return session, nil
}

// List returns the caller's active sessions, most recently active first.
// Exactly the session matching the presented token is flagged current.
func (s *SessionService) List(userID uint, currentToken string) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	currentHash := security.HashSessionToken(currentToken, s.pepper)
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:           session.ID,
			DeviceName:   session.DeviceName,
			Location:     session.Location,
			IPAddress:    session.IPAddress,
			UserAgent:    session.UserAgent,
			LastActiveAt: session.LastActiveAt,
			CreatedAt:    session.CreatedAt,
			ExpiresAt:    session.ExpiresAt,
			RevokedAt:    session.RevokedAt,
			IsCurrent:    currentToken != "" && session.SessionTokenHash == currentHash,
		})
	}
	return views, nil
}

// Revoke marks one of the caller's other sessions revoked. Revoking the
// session backing the request itself is rejected; ordinary logout covers
// that. Re-revoking an already revoked session is a silent success.
func (s *SessionService) Revoke(userID, sessionID uint, currentToken string, expireNow bool) error {
	target, err := s.sessions.FindByIDForUser(userID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionRevocation("single", "not_found")
			return repository.ErrSessionNotFound
		}
		return err
	}

	revokedBy := domain.RevokedBySelf
	current, err := s.ResolveCurrent(currentToken)
	switch {
	case err == nil:
		if current.ID == target.ID {
			observability.RecordSessionRevocation("single", "rejected_current")
			return ErrCurrentSession
		}
		revokedBy = fmt.Sprintf("%d", current.ID)
	case errors.Is(err, ErrNoCurrentSession):
		// Caller authenticated but its own row is gone; proceed with the
		// sentinel attribution.
	default:
		return err
	}

	changed, err := s.sessions.Revoke(target.ID, revokedBy, expireNow)
	if err != nil {
		observability.RecordSessionRevocation("single", "error")
		return err
	}
	if !changed {
		observability.RecordSessionRevocation("single", "already_revoked")
		return nil
	}
	observability.RecordSessionRevocation("single", "revoked")
	return nil
}

// RevokeOthers revokes every active session except the caller's current one,
// identified strictly by token match.
func (s *SessionService) RevokeOthers(userID uint, currentToken string, expireNow bool) (int64, error) {
	current, err := s.ResolveCurrent(currentToken)
	if err != nil {
		return 0, err
	}
	if current.UserID != userID {
		return 0, ErrNoCurrentSession
	}
	count, err := s.sessions.RevokeOthersByUser(userID, current.ID, fmt.Sprintf("%d", current.ID), expireNow)
	if err != nil {
		observability.RecordSessionRevocation("others", "error")
		return count, err
	}
	observability.RecordSessionRevocation("others", "revoked")
	return count, nil
}

// Validate is the polling contract. Only an explicit invalid result tells
// the client to sign out; infrastructure failures must be surfaced as errors
// so the client treats them as transient.
func (s *SessionService) Validate(sessionToken string) (*ValidationResult, error) {
	session, err := s.sessions.FindByTokenHash(security.HashSessionToken(sessionToken, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionValidation("invalid")
			return &ValidationResult{Valid: false, Reason: invalidReason, ShouldLogout: true}, nil
		}
		observability.RecordSessionValidation("error")
		return nil, err
	}
	if !session.Active(time.Now()) {
		observability.RecordSessionValidation("invalid")
		return &ValidationResult{Valid: false, Reason: invalidReason, ShouldLogout: true}, nil
	}
	s.Touch(session)
	observability.RecordSessionValidation("valid")
	return &ValidationResult{Valid: true}, nil
}

// Touch bumps last_active, throttled so a busy client does not turn every
// request into a write.
func (s *SessionService) Touch(session *domain.Session) {
	now := time.Now().UTC()
	if now.Sub(session.LastActiveAt) < s.touchEvery {
		return
	}
	if err := s.sessions.TouchLastActive(session.ID, now); err == nil {
		session.LastActiveAt = now
	}
}

// Logout removes the caller's own session row outright; the grace-period
// dance only applies to remote revocation.
func (s *SessionService) Logout(sessionToken string) error {
	session, err := s.ResolveCurrent(sessionToken)
	if err != nil {
		if errors.Is(err, ErrNoCurrentSession) {
			return nil
		}
		return err
	}
	return s.sessions.DeleteByID(session.ID)
}

func parseDeviceName(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android"):
		return "Mobile Device"
	case strings.Contains(ua, "mac"):
		return "Mac"
	case strings.Contains(ua, "windows"):
		return "Windows PC"
	default:
		return "Desktop"
	}
}
