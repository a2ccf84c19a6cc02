package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/geo"
	"authgate/internal/http/middleware"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/service"
	"authgate/internal/totp"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// captureMailer records outgoing mail so tests can read the codes and
// tokens that would otherwise only exist in a user's inbox.
type captureMailer struct {
	mu          sync.Mutex
	lastCode    string
	lastToken   string
	lastResetTo string
	resetURL    string
}

func (m *captureMailer) SendVerificationCode(_ context.Context, _, code, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	m.lastToken = token
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResetTo = email
	m.resetURL = resetURL
	return nil
}

func (m *captureMailer) SendLoginAlert(context.Context, string, string, string) error { return nil }

func (m *captureMailer) last() (code, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode, m.lastToken
}

// lastReset pulls the token and code back out of the emailed reset link.
func (m *captureMailer) lastReset(t *testing.T) (code, token string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := url.Parse(m.resetURL)
	if err != nil {
		t.Fatalf("parse reset url %q: %v", m.resetURL, err)
	}
	return u.Query().Get("code"), u.Query().Get("token")
}

type handlerFixture struct {
	db           *gorm.DB
	users        repository.UserRepository
	sessions     *service.SessionService
	auth         *service.AuthService
	twoFactor    *service.TwoFactorService
	verification *service.VerificationService
	engine       *totp.Engine
	jwtMgr       *security.JWTManager
	mail         *captureMailer

	authH  *AuthHandler
	sessH  *SessionHandler
	tfH    *TwoFactorHandler
	verifH *VerificationHandler
	userH  *UserHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.TwoFactorToken{},
		&domain.VerificationToken{},
		&domain.VerificationAttempt{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tfTokens := repository.NewTwoFactorTokenRepository(db)
	verifications := repository.NewVerificationRepository(db)

	hasher := security.NewPasswordHasher(4)
	box, err := security.NewSecretBox(make([]byte, 32))
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}
	engine := totp.NewEngine("authgate-test")
	mail := &captureMailer{}

	sessions := service.NewSessionService(sessionRepo, geo.NoopResolver{}, "handler-pepper", time.Hour, time.Minute)
	twoFactor := service.NewTwoFactorService(users, tfTokens, engine, box, hasher)
	auth := service.NewAuthService(users, tfTokens, sessions, twoFactor, hasher, mail, 5*time.Minute)
	verification := service.NewVerificationService(users, verifications, sessionRepo, hasher, mail, service.VerificationLimits{
		CodeTTL:        15 * time.Minute,
		EmailVerifyCap: 5,
		ResetCap:       3,
		RedeemCap:      5,
		RedeemWindow:   time.Hour,
		ResetCooldown:  24 * time.Hour,
	}, "https://app.example.com/reset")

	jwtMgr := security.NewJWTManager("authgate-test", "handler-jwt-secret")
	cookies := security.NewCookieWriter("", false)

	f := &handlerFixture{
		db:           db,
		users:        users,
		sessions:     sessions,
		auth:         auth,
		twoFactor:    twoFactor,
		verification: verification,
		engine:       engine,
		jwtMgr:       jwtMgr,
		mail:         mail,
	}
	f.authH = NewAuthHandler(auth, nil, sessions, jwtMgr, cookies)
	f.sessH = NewSessionHandler(sessions)
	f.tfH = NewTwoFactorHandler(twoFactor)
	f.verifH = NewVerificationHandler(verification)
	f.userH = NewUserHandler(service.NewAccountService(users, sessionRepo, tfTokens, verifications, twoFactor), cookies)
	return f
}

// register creates an account straight through the service layer.
func (f *handlerFixture) register(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user, err := f.auth.Register("Test User", email, password)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

// login establishes a session and returns the row plus its opaque token.
func (f *handlerFixture) login(t *testing.T, userID uint) (*domain.Session, string) {
	t.Helper()
	session, token, err := f.sessions.Create(context.Background(), userID, "203.0.113.5", "test-agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session, token
}

// authed attaches the session to the request context the way the auth
// middleware would.
func authed(r *http.Request, session *domain.Session, token string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.SessionContextKey, session)
	ctx = context.WithValue(ctx, middleware.SessionTokenContextKey, token)
	return r.WithContext(ctx)
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rr.Body.String())
	}
	return env
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v (data %s)", err, env.Data)
	}
}

func wantErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected error code %s, got %s", code, rr.Body.String())
	}
}
