package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/geo"
	"authgate/internal/health"
	"authgate/internal/http/handler"
	"authgate/internal/http/router"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/service"
	"authgate/internal/totp"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingMailer struct {
	mu        sync.Mutex
	lastCode  string
	lastToken string
	resetURL  string
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, _, code, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	m.lastToken = token
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, _, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetURL = resetURL
	return nil
}

func (m *recordingMailer) SendLoginAlert(context.Context, string, string, string) error { return nil }

func (m *recordingMailer) verification(t *testing.T) (code, token string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastCode == "" || m.lastToken == "" {
		t.Fatal("no verification mail captured")
	}
	return m.lastCode, m.lastToken
}

func (m *recordingMailer) reset(t *testing.T) (code, token string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := url.Parse(m.resetURL)
	if err != nil {
		t.Fatalf("parse reset url %q: %v", m.resetURL, err)
	}
	return u.Query().Get("code"), u.Query().Get("token")
}

type testEnv struct {
	BaseURL string
	Mailer  *recordingMailer
	Engine  *totp.Engine
	DB      *gorm.DB

	server *httptest.Server
}

func newAuthTestServer(t *testing.T) *testEnv {
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
	jwtMgr := security.NewJWTManager("authgate-test", "integration-jwt-secret")
	cookies := security.NewCookieWriter("", false)
	engine := totp.NewEngine("authgate-test")
	mail := &recordingMailer{}

	sessions := service.NewSessionService(sessionRepo, geo.NoopResolver{}, "integration-pepper", time.Hour, time.Minute)
	twoFactor := service.NewTwoFactorService(users, tfTokens, engine, box, hasher)
	auth := service.NewAuthService(users, tfTokens, sessions, twoFactor, hasher, mail, 5*time.Minute)
	verification := service.NewVerificationService(users, verifications, sessionRepo, hasher, mail, service.VerificationLimits{
		CodeTTL:        15 * time.Minute,
		EmailVerifyCap: 10,
		ResetCap:       5,
		RedeemCap:      5,
		RedeemWindow:   time.Hour,
		ResetCooldown:  24 * time.Hour,
	}, "https://app.example.com/reset")
	account := service.NewAccountService(users, sessionRepo, tfTokens, verifications, twoFactor)

	checkers := []health.Checker{health.DatabaseChecker{DB: db}}
	h := router.NewRouter(router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(auth, nil, sessions, jwtMgr, cookies),
		SessionHandler:      handler.NewSessionHandler(sessions),
		TwoFactorHandler:    handler.NewTwoFactorHandler(twoFactor),
		VerificationHandler: handler.NewVerificationHandler(verification),
		UserHandler:         handler.NewUserHandler(account, cookies),
		JWTManager:          jwtMgr,
		Sessions:            sessions,
		CORSOrigins:         []string{"http://localhost"},
		APIRateLimitRPM:     10000,
		AuthRateLimitRPM:    10000,
		Readiness:           health.NewProbeRunner(time.Second, 0, checkers...),
	})

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return &testEnv{BaseURL: server.URL, Mailer: mail, Engine: engine, DB: db, server: server}
}

// newDeviceClient simulates one browser: its own cookie jar, so each client
// holds an independent session.
func newDeviceClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, target, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v", method, target, err)
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL, email, password string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"name": "Integration User", "email": email, "password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d body=%s", resp.StatusCode, env.Data)
	}
	login(t, client, baseURL, email, password)
}

func login(t *testing.T, client *http.Client, baseURL, email, password string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d", resp.StatusCode)
	}
	if cookieValue(t, client, baseURL, security.SessionCookieName) == "" {
		t.Fatal("expected session cookie after login")
	}
}

func csrfHeader(t *testing.T, client *http.Client, baseURL string) map[string]string {
	t.Helper()
	token := cookieValue(t, client, baseURL, security.CSRFCookieName)
	if token == "" {
		t.Fatal("expected csrf cookie")
	}
	return map[string]string{"X-CSRF-Token": token}
}
