package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability"
	"authgate/internal/repository"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var errGoogleEmailNotVerified = errors.New("google email not verified")

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	EmailVerified  bool
}

// OAuthProvider abstracts the identity provider so the callback flow can be
// tested without a live exchange.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type GoogleProvider struct {
	config      *oauth2.Config
	userinfoURL string
	client      *http.Client
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userinfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

func (p *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var payload struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Sub == "" || payload.Email == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: payload.Sub,
		Email:          payload.Email,
		Name:           payload.Name,
		EmailVerified:  payload.EmailVerified,
	}, nil
}

type OAuthService struct {
	provider OAuthProvider
	users    repository.UserRepository
	tfTokens repository.TwoFactorTokenRepository
	sessions *SessionService
	tfTTL    time.Duration
}

func NewOAuthService(
	provider OAuthProvider,
	users repository.UserRepository,
	tfTokens repository.TwoFactorTokenRepository,
	sessions *SessionService,
) *OAuthService {
	return &OAuthService{
		provider: provider,
		users:    users,
		tfTokens: tfTokens,
		sessions: sessions,
		tfTTL:    10 * time.Minute,
	}
}

func (s *OAuthService) AuthCodeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// HandleGoogleCallback exchanges the code, resolves or provisions the user,
// and establishes a session. Users enrolled in two-factor still have to
// clear the second factor even when arriving through Google.
func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordAuthLogin("google", classifyOAuthError(err))
		return nil, err
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		observability.RecordAuthLogin("google", classifyOAuthError(err))
		return nil, err
	}
	if !info.EmailVerified {
		observability.RecordAuthLogin("google", "email_not_verified")
		return nil, errGoogleEmailNotVerified
	}
	return info, nil
}

// Login completes the callback by mapping the Google identity onto a local
// account. The provider has already vouched for the email, so a
// provisioned account starts verified.
func (s *OAuthService) Login(ctx context.Context, info *OAuthUserInfo, ipAddress, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(info.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		now := time.Now().UTC()
		user = &domain.User{
			Name:            info.Name,
			Email:           info.Email,
			EmailVerifiedAt: &now,
		}
		if err := s.users.Create(user); err != nil {
			return nil, err
		}
	}

	if user.TwoFactorEnabled {
		pending, err := mintTwoFactorHandoff(s.tfTokens, user.ID, s.tfTTL)
		if err != nil {
			return nil, err
		}
		observability.RecordAuthLogin("google", "pending_2fa")
		return &LoginResult{
			TwoFactorRequired: true,
			TwoFactorToken:    pending.Token,
			TwoFactorExpires:  pending.ExpiresAt,
		}, nil
	}

	session, raw, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		observability.RecordAuthLogin("google", "error")
		return nil, err
	}
	observability.RecordAuthLogin("google", "success")
	return &LoginResult{Session: session, SessionToken: raw}, nil
}

func classifyOAuthError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(err.Error(), "userinfo status:"):
		return "userinfo_status"
	case strings.Contains(err.Error(), "missing required userinfo fields"):
		return "invalid_userinfo"
	default:
		return "oauth2_exchange"
	}
}
