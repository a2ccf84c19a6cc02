package handler

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/observability"
	"authgate/internal/security"
	"authgate/internal/service"
)

const minPasswordLength = 8

type AuthHandler struct {
	auth     *service.AuthService
	oauth    *service.OAuthService
	sessions *service.SessionService
	jwtMgr   *security.JWTManager
	cookies  *security.CookieWriter
}

func NewAuthHandler(
	auth *service.AuthService,
	oauth *service.OAuthService,
	sessions *service.SessionService,
	jwtMgr *security.JWTManager,
	cookies *security.CookieWriter,
) *AuthHandler {
	return &AuthHandler{auth: auth, oauth: oauth, sessions: sessions, jwtMgr: jwtMgr, cookies: cookies}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid email address", nil)
		return
	}
	if len(req.Password) < minPasswordLength {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "password too short", map[string]int{"min_length": minPasswordLength})
		return
	}
	user, err := h.auth.Register(strings.TrimSpace(req.Name), req.Email, req.Password)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "user.registered", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	result, err := h.auth.Authenticate(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)), req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	if result.TwoFactorRequired {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"two_factor_required": true,
			"two_factor_token":    result.TwoFactorToken,
			"expires_at":          result.TwoFactorExpires,
		})
		return
	}
	h.issueSession(w, r, result)
}

type twoFactorLoginRequest struct {
	Token        string `json:"token"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"is_backup_code"`
}

// CompleteTwoFactor exchanges the pending handoff plus a second factor for
// the session cookie.
func (h *AuthHandler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	result, err := h.auth.CompleteTwoFactor(r.Context(), req.Token, strings.TrimSpace(req.Code), req.IsBackupCode, clientIP(r), r.UserAgent())
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.2fa_completed", "user_id", result.Session.UserID, "backup_code", req.IsBackupCode)
	h.issueSession(w, r, result)
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := security.NewOpaqueToken()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/api/v1/auth/google",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie := security.GetCookie(r, "oauth_state")
	if state == "" || stateCookie == "" || state != stateCookie {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "oauth state mismatch", nil)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing authorization code", nil)
		return
	}
	info, err := h.oauth.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "google sign-in failed", nil)
		return
	}
	result, err := h.oauth.Login(r.Context(), info, clientIP(r), r.UserAgent())
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	if result.TwoFactorRequired {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"two_factor_required": true,
			"two_factor_token":    result.TwoFactorToken,
			"expires_at":          result.TwoFactorExpires,
		})
		return
	}
	observability.Audit(r, "auth.google_login", "user_id", result.Session.UserID)
	h.issueSession(w, r, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.SessionTokenFromContext(r.Context())
	if ok {
		if err := h.sessions.Logout(token); err != nil {
			response.ServiceError(w, r, err)
			return
		}
	}
	h.cookies.ClearSessionCookie(w)
	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// ValidateSession is the polling endpoint. It reads the cookie directly so
// an invalid session yields a structured verdict instead of a 401.
func (h *AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.SessionCookieName)
	if raw == "" {
		response.JSON(w, r, http.StatusOK, service.ValidationResult{Valid: false, Reason: "expired-or-revoked", ShouldLogout: true})
		return
	}
	claims, err := h.jwtMgr.ParseSessionCredential(raw)
	if err != nil {
		response.JSON(w, r, http.StatusOK, service.ValidationResult{Valid: false, Reason: "expired-or-revoked", ShouldLogout: true})
		return
	}
	result, err := h.sessions.Validate(claims.ID)
	if err != nil {
		// Infrastructure failure: the client must not sign out over this.
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "password too short", map[string]int{"min_length": minPasswordLength})
		return
	}
	token, _ := middleware.SessionTokenFromContext(r.Context())
	if err := h.auth.ChangePassword(session.UserID, req.CurrentPassword, req.NewPassword, token); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password_changed", "user_id", session.UserID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, r *http.Request, result *service.LoginResult) {
	signed, err := h.jwtMgr.SignSessionCredential(result.Session.UserID, result.SessionToken, result.Session.ExpiresAt)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	h.cookies.SetSessionCookie(w, signed, result.Session.ExpiresAt)
	csrf, err := security.NewOpaqueToken()
	if err == nil {
		h.cookies.SetCSRFCookie(w, csrf, result.Session.ExpiresAt)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"session": map[string]any{
			"id":          result.Session.ID,
			"device_name": result.Session.DeviceName,
			"expires_at":  result.Session.ExpiresAt,
		},
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}
