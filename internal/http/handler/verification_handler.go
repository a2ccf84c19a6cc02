package handler

import (
	"errors"
	"net/http"
	"strings"

	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/service"
)

type VerificationHandler struct {
	verification *service.VerificationService
}

func NewVerificationHandler(verification *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verification: verification}
}

func (h *VerificationHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	issued, err := h.verification.IssueEmailVerification(r.Context(), session.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "email_verification.requested", "user_id", session.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"expires_at": issued.ExpiresAt})
}

type confirmEmailRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

func (h *VerificationHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.verification.ConfirmEmail(req.Token, strings.TrimSpace(req.Code)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "email_verification.confirmed")
	response.JSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers identically whether or not the account exists;
// only the rate-limit rejection is distinguishable.
func (h *VerificationHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	_, err := h.verification.RequestPasswordReset(r.Context(), email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "password_reset.requested")
	response.JSON(w, r, http.StatusOK, map[string]string{
		"status": "if the account exists, a reset link has been sent",
	})
}

type resetVerifyRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

func (h *VerificationHandler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.verification.VerifyResetToken(req.Token, strings.TrimSpace(req.Code)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"valid": true})
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (h *VerificationHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if len(req.Password) < minPasswordLength {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "password too short", map[string]int{"min_length": minPasswordLength})
		return
	}
	if err := h.verification.ConfirmPasswordReset(req.Token, strings.TrimSpace(req.Code), req.Password); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "password_reset.completed")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}
