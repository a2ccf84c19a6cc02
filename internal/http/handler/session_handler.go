package handler

import (
	"net/http"
	"strconv"

	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/observability"
	"authgate/internal/service"

	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	token, _ := middleware.SessionTokenFromContext(r.Context())
	views, err := h.sessions.List(session.UserID, token)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

type revokeRequest struct {
	ExpireNow bool `json:"expire_now"`
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	sessionID, err := strconv.ParseUint(chi.URLParam(r, "session_id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	var req revokeRequest
	// An empty body means a plain revoke.
	_ = decodeJSON(r, &req)

	token, _ := middleware.SessionTokenFromContext(r.Context())
	if err := h.sessions.Revoke(session.UserID, uint(sessionID), token, req.ExpireNow); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.revoked", "user_id", session.UserID, "target_session_id", sessionID, "expire_now", req.ExpireNow)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	var req revokeRequest
	_ = decodeJSON(r, &req)

	token, _ := middleware.SessionTokenFromContext(r.Context())
	count, err := h.sessions.RevokeOthers(session.UserID, token, req.ExpireNow)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.revoked_others", "user_id", session.UserID, "revoked_count", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked_count": count})
}
