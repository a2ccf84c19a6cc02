package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmailVerificationFlow(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.register(t, "ada@example.com", "correct horse")
	session, token := f.login(t, user.ID)

	rr := httptest.NewRecorder()
	f.verifH.RequestEmailVerification(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify-email/request", nil), session, token))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	code, verifyToken := f.mail.last()
	if code == "" || verifyToken == "" {
		t.Fatal("expected verification mail to be sent")
	}
	// The token never appears in the HTTP response.
	var issued struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	decodeData(t, rr, &issued)
	if issued.Token != "" {
		t.Fatal("verification token must only travel by email")
	}
	if issued.ExpiresAt == "" {
		t.Fatal("expected expiry in response")
	}

	rr = httptest.NewRecorder()
	f.verifH.ConfirmEmail(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/verify-email/confirm", map[string]string{
		"token": verifyToken, "code": code,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	u, err := f.users.FindByID(user.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.EmailVerifiedAt == nil {
		t.Fatal("email should be verified")
	}

	// A second request for an already verified address is rejected.
	rr = httptest.NewRecorder()
	f.verifH.RequestEmailVerification(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify-email/request", nil), session, token))
	wantErrorCode(t, rr, http.StatusBadRequest, "INVALID_OPERATION")
}

func TestConfirmEmailRejectsWrongCode(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.register(t, "ada@example.com", "correct horse")
	session, token := f.login(t, user.ID)

	rr := httptest.NewRecorder()
	f.verifH.RequestEmailVerification(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify-email/request", nil), session, token))
	code, verifyToken := f.mail.last()

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	// Each wrong guess reports how much of the attempt budget is gone.
	for want := int64(1); want <= 2; want++ {
		rr = httptest.NewRecorder()
		f.verifH.ConfirmEmail(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/verify-email/confirm", map[string]string{
			"token": verifyToken, "code": wrong,
		}))
		wantErrorCode(t, rr, http.StatusBadRequest, "INVALID_CODE")
		env := decodeEnvelope(t, rr)
		var details struct {
			AttemptsUsed int64 `json:"attempts_used"`
			MaxAttempts  int64 `json:"max_attempts"`
		}
		if err := json.Unmarshal(env.Error.Details, &details); err != nil {
			t.Fatalf("decode details: %v", err)
		}
		if details.AttemptsUsed != want || details.MaxAttempts != 5 {
			t.Fatalf("expected %d/5 attempts, got %+v", want, details)
		}
	}

	// A bogus token is a different failure and carries no budget.
	rr = httptest.NewRecorder()
	f.verifH.ConfirmEmail(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/verify-email/confirm", map[string]string{
		"token": "no-such-token", "code": wrong,
	}))
	wantErrorCode(t, rr, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN")
}

func TestForgotPasswordDoesNotLeakAccounts(t *testing.T) {
	f := newHandlerFixture(t)
	f.register(t, "ada@example.com", "correct horse")

	known := httptest.NewRecorder()
	f.verifH.ForgotPassword(known, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/forgot", map[string]string{
		"email": "ada@example.com",
	}))
	unknown := httptest.NewRecorder()
	f.verifH.ForgotPassword(unknown, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/forgot", map[string]string{
		"email": "nobody@example.com",
	}))

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("both answers must be 200, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		// Bodies differ only by meta timestamps; compare the data payloads.
		k, u := decodeEnvelope(t, known), decodeEnvelope(t, unknown)
		if string(k.Data) != string(u.Data) {
			t.Fatalf("responses must be indistinguishable: %s vs %s", k.Data, u.Data)
		}
	}
	if f.mail.lastResetTo != "ada@example.com" {
		t.Fatalf("reset mail should only go to the real account, got %q", f.mail.lastResetTo)
	}
}

func TestForgotPasswordRateLimitIsVisible(t *testing.T) {
	f := newHandlerFixture(t)
	f.register(t, "ada@example.com", "correct horse")

	body := map[string]string{"email": "ada@example.com"}
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		f.verifH.ForgotPassword(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/forgot", body))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}
	rr := httptest.NewRecorder()
	f.verifH.ForgotPassword(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/forgot", body))
	wantErrorCode(t, rr, http.StatusTooManyRequests, "RATE_LIMITED")
}

func TestPasswordResetFlow(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.register(t, "ada@example.com", "correct horse")
	_, sessionToken := f.login(t, user.ID)

	rr := httptest.NewRecorder()
	f.verifH.ForgotPassword(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/forgot", map[string]string{
		"email": "ada@example.com",
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	code, resetToken := f.mail.lastReset(t)

	rr = httptest.NewRecorder()
	f.verifH.VerifyResetToken(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/reset/verify", map[string]string{
		"token": resetToken, "code": code,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	f.verifH.ConfirmPasswordReset(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/reset/confirm", map[string]string{
		"token": resetToken, "code": code, "password": "short",
	}))
	wantErrorCode(t, rr, http.StatusBadRequest, "BAD_REQUEST")

	rr = httptest.NewRecorder()
	f.verifH.ConfirmPasswordReset(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/reset/confirm", map[string]string{
		"token": resetToken, "code": code, "password": "battery staple",
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Every session dies with the old password.
	if _, err := f.sessions.ResolveCurrent(sessionToken); err == nil {
		t.Fatal("sessions must be revoked after a reset")
	}
	if _, err := f.auth.Authenticate(context.Background(), "ada@example.com", "battery staple", "127.0.0.1", "ua"); err != nil {
		t.Fatalf("new password should authenticate: %v", err)
	}

	// The link is single use.
	rr = httptest.NewRecorder()
	f.verifH.ConfirmPasswordReset(rr, jsonRequest(t, http.MethodPost, "/api/v1/auth/password/reset/confirm", map[string]string{
		"token": resetToken, "code": code, "password": "yet another pw",
	}))
	wantErrorCode(t, rr, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN")
}
