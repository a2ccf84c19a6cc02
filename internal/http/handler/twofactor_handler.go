package handler

import (
	"net/http"
	"strings"

	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/observability"
	"authgate/internal/service"
)

type TwoFactorHandler struct {
	twoFactor *service.TwoFactorService
}

func NewTwoFactorHandler(twoFactor *service.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor}
}

// Setup mints enrollment material. Nothing persists until VerifySetup.
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	setup, err := h.twoFactor.GenerateSetup(session.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, setup)
}

type verifySetupRequest struct {
	Secret      string   `json:"secret"`
	Code        string   `json:"code"`
	BackupCodes []string `json:"backup_codes"`
}

func (h *TwoFactorHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	var req verifySetupRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if req.Secret == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "secret and code are required", nil)
		return
	}
	codes, err := h.twoFactor.Enable(session.UserID, req.Secret, strings.TrimSpace(req.Code), req.BackupCodes)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "2fa.enabled", "user_id", session.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"enabled":      true,
		"backup_codes": codes,
	})
}

type disableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	var req disableRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.twoFactor.Disable(session.UserID, req.Password, strings.TrimSpace(req.Code)); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "2fa.disabled", "user_id", session.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"enabled": false})
}
