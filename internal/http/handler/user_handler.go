package handler

import (
	"net/http"

	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/observability"
	"authgate/internal/security"
	"authgate/internal/service"
)

type UserHandler struct {
	account *service.AccountService
	cookies *security.CookieWriter
}

func NewUserHandler(account *service.AccountService, cookies *security.CookieWriter) *UserHandler {
	return &UserHandler{account: account, cookies: cookies}
}

func (h *UserHandler) SecuritySettings(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	settings, err := h.account.SecuritySettings(session.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, settings)
}

func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	if err := h.account.DeleteAccount(session.UserID); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	h.cookies.ClearSessionCookie(w)
	observability.Audit(r, "account.deleted", "user_id", session.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}
