package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"authgate/internal/health"
	"authgate/internal/http/handler"
	"authgate/internal/http/middleware"
	"authgate/internal/http/response"
	"authgate/internal/security"
	"authgate/internal/service"
)

type Dependencies struct {
	AuthHandler         *handler.AuthHandler
	SessionHandler      *handler.SessionHandler
	TwoFactorHandler    *handler.TwoFactorHandler
	VerificationHandler *handler.VerificationHandler
	UserHandler         *handler.UserHandler

	JWTManager *security.JWTManager
	Sessions   *service.SessionService

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	GlobalRateLimiter GlobalRateLimiterFunc
	AuthRateLimiter   AuthRateLimiterFunc
	ForgotRateLimiter ForgotRateLimiterFunc

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type ForgotRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimit := dep.AuthRateLimiter
	if authLimit == nil {
		authLimit = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	forgotLimit := dep.ForgotRateLimiter
	if forgotLimit == nil {
		forgotLimit = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}

	authn := middleware.AuthMiddleware(dep.JWTManager, dep.Sessions)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/register", dep.AuthHandler.Register)
			r.With(authLimit).Post("/login", dep.AuthHandler.Login)
			r.With(authLimit).Post("/2fa/verify", dep.AuthHandler.CompleteTwoFactor)
			r.With(authLimit).Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.With(authLimit).Get("/google/callback", dep.AuthHandler.GoogleCallback)
			r.Get("/validate-session", dep.AuthHandler.ValidateSession)

			r.With(forgotLimit).Post("/password/forgot", dep.VerificationHandler.ForgotPassword)
			r.With(authLimit).Post("/password/reset/verify", dep.VerificationHandler.VerifyResetToken)
			r.With(authLimit).Post("/password/reset/confirm", dep.VerificationHandler.ConfirmPasswordReset)
			r.With(authLimit).Post("/verify-email/confirm", dep.VerificationHandler.ConfirmEmail)

			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.Use(authn)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.With(authLimit).Post("/password/change", dep.AuthHandler.ChangePassword)
				r.With(authLimit).Post("/verify-email/request", dep.VerificationHandler.RequestEmailVerification)
				r.Post("/2fa/setup", dep.TwoFactorHandler.Setup)
				r.Post("/2fa/verify-setup", dep.TwoFactorHandler.VerifySetup)
				r.Post("/2fa/disable", dep.TwoFactorHandler.Disable)
			})
		})

		r.With(authn).Get("/me/sessions", dep.SessionHandler.List)
		r.With(authn).Get("/me/security-settings", dep.UserHandler.SecuritySettings)
		r.Group(func(r chi.Router) {
			r.Use(middleware.CSRFMiddleware)
			r.Use(authn)
			r.Delete("/me", dep.UserHandler.DeleteAccount)
			r.Delete("/me/sessions/{session_id}", dep.SessionHandler.Revoke)
			r.Post("/me/sessions/revoke-others", dep.SessionHandler.RevokeOthers)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
