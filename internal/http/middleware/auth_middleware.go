package middleware

import (
	"context"
	"net/http"

	"authgate/internal/domain"
	"authgate/internal/http/response"
	"authgate/internal/security"
	"authgate/internal/service"
)

type contextKey string

const (
	SessionContextKey      contextKey = "session"
	SessionTokenContextKey contextKey = "session_token"
)

// AuthMiddleware authenticates a request from its session cookie. The
// cookie carries a signed credential; the opaque session token inside it
// must still resolve to a live row, so a revoked session fails here even
// with a cryptographically valid cookie.
func AuthMiddleware(jwtMgr *security.JWTManager, sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, security.SessionCookieName)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
				return
			}
			claims, err := jwtMgr.ParseSessionCredential(raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session credential", nil)
				return
			}
			session, err := sessions.ResolveCurrent(claims.ID)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session expired or revoked", nil)
				return
			}
			sessions.Touch(session)
			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, SessionTokenContextKey, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*domain.Session)
	return s, ok
}

func SessionTokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(SessionTokenContextKey).(string)
	return t, ok
}
