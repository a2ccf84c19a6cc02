package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"authgate/internal/repository"
	"authgate/internal/service"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// ServiceError maps the service layer's sentinel errors onto stable response
// codes. Anything unrecognized is a transient server fault the client may
// retry.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *service.CodeMismatchError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, service.ErrNoCurrentSession):
		Error(w, r, http.StatusUnauthorized, "NO_CURRENT_SESSION", "no current session", nil)
	case errors.As(err, &mismatch):
		Error(w, r, http.StatusBadRequest, "INVALID_CODE", "incorrect verification code", map[string]int64{
			"attempts_used": mismatch.AttemptsUsed,
			"max_attempts":  mismatch.MaxAttempts,
		})
	case errors.Is(err, service.ErrInvalidCode):
		Error(w, r, http.StatusBadRequest, "INVALID_CODE", "incorrect verification code", nil)
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		Error(w, r, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN", "invalid or expired token or code", nil)
	case errors.Is(err, service.ErrCurrentSession):
		Error(w, r, http.StatusBadRequest, "INVALID_OPERATION", "cannot revoke the current session", nil)
	case errors.Is(err, service.ErrInvalidOperation):
		Error(w, r, http.StatusBadRequest, "INVALID_OPERATION", "operation not valid in current state", nil)
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		Error(w, r, http.StatusBadRequest, "TWO_FACTOR_NOT_ENABLED", "two-factor authentication is not enabled", nil)
	case errors.Is(err, service.ErrEmailNotVerified):
		Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email address is not verified", nil)
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, repository.ErrEmailTaken):
		Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
	case errors.Is(err, service.ErrResetCooldown):
		Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "password can only be reset once per day", nil)
	case errors.Is(err, service.ErrRateLimited):
		Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", nil)
	case errors.Is(err, service.ErrAttemptsExceeded):
		Error(w, r, http.StatusTooManyRequests, "ATTEMPTS_EXCEEDED", "maximum attempts reached, request a new code", nil)
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrUserNotFound):
		Error(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	}
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
