package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"authgate/internal/app"
	"authgate/internal/config"
	"authgate/internal/domain"
	"authgate/internal/geo"
	"authgate/internal/health"
	"authgate/internal/http/handler"
	"authgate/internal/http/middleware"
	"authgate/internal/http/router"
	"authgate/internal/mailer"
	"authgate/internal/observability"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/service"
	"authgate/internal/totp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "Session and multi-factor authentication backend",
	}
	cmd.AddCommand(newServeCommand(), newSweepCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reaper pass over expired and revoked rows, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			reaper := service.NewReaper(
				repository.NewSessionRepository(db),
				repository.NewTwoFactorTokenRepository(db),
				repository.NewVerificationRepository(db),
				logger,
				cfg.SessionGracePeriod,
				cfg.SweepInterval,
			)
			deleted := reaper.SweepOnce(time.Now().UTC())
			logger.Info("sweep complete", "deleted", deleted)
			return nil
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, observability.MetricsConfig{
		Enabled:        cfg.OTELEnabled,
		Endpoint:       cfg.OTELExporterOTLPEndpoint,
		Insecure:       cfg.OTELExporterOTLPInsecure,
		ServiceName:    cfg.OTELServiceName,
		Environment:    cfg.OTELEnvironment,
		ExportInterval: cfg.OTELMetricsExportInterval,
	}, observability.TracingConfig{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Insecure:    cfg.OTELExporterOTLPInsecure,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		SampleRatio: cfg.OTELTraceSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	users := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tfTokens := repository.NewTwoFactorTokenRepository(db)
	verifications := repository.NewVerificationRepository(db)

	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	box, err := security.NewSecretBox(cfg.SecretBoxKey)
	if err != nil {
		return err
	}
	jwtMgr := security.NewJWTManager("authgate", cfg.JWTSecret)
	cookies := security.NewCookieWriter(cfg.CookieDomain, cfg.IsProd())
	engine := totp.NewEngine(cfg.TOTPIssuer)
	mail := mailer.NewLogMailer(logger)

	var resolver geo.Resolver = geo.NoopResolver{}
	if cfg.GeoLookupEnabled {
		resolver = geo.NewHTTPResolver(cfg.GeoLookupBaseURL, 3*time.Second, logger)
	}

	sessions := service.NewSessionService(sessionRepo, resolver, cfg.SessionPepper, cfg.SessionTTL, cfg.LastActiveInterval)
	twoFactor := service.NewTwoFactorService(users, tfTokens, engine, box, hasher)
	auth := service.NewAuthService(users, tfTokens, sessions, twoFactor, hasher, mail, cfg.TwoFactorTokenTTL)
	verification := service.NewVerificationService(users, verifications, sessionRepo, hasher, mail, service.VerificationLimits{
		CodeTTL:        cfg.VerificationCodeTTL,
		EmailVerifyCap: int64(cfg.EmailVerifyDailyCap),
		ResetCap:       int64(cfg.PasswordResetDailyCap),
		RedeemCap:      int64(cfg.RedeemAttemptCap),
		RedeemWindow:   cfg.RedeemWindow,
		ResetCooldown:  cfg.PasswordResetCooldown,
	}, cfg.BaseURL+"/reset-password")
	provider := service.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	oauth := service.NewOAuthService(provider, users, tfTokens, sessions)
	account := service.NewAccountService(users, sessionRepo, tfTokens, verifications, twoFactor)

	reaper := service.NewReaper(sessionRepo, tfTokens, verifications, logger, cfg.SessionGracePeriod, cfg.SweepInterval)

	checkers := []health.Checker{health.DatabaseChecker{DB: db}}
	if redisClient != nil {
		checkers = append(checkers, health.RedisChecker{Client: redisClient})
	}
	readiness := health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)

	deps := router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(auth, oauth, sessions, jwtMgr, cookies),
		SessionHandler:      handler.NewSessionHandler(sessions),
		TwoFactorHandler:    handler.NewTwoFactorHandler(twoFactor),
		VerificationHandler: handler.NewVerificationHandler(verification),
		UserHandler:         handler.NewUserHandler(account, cookies),
		JWTManager:          jwtMgr,
		Sessions:            sessions,
		CORSOrigins:         cfg.CORSOrigins,
		APIRateLimitRPM:     cfg.APIRateLimitRPM,
		AuthRateLimitRPM:    cfg.AuthRateLimitRPM,
		Readiness:           readiness,
		EnableOTelHTTP:      cfg.OTELEnabled,
	}
	if cfg.RateLimitBackend == "redis" && redisClient != nil {
		backend := middleware.NewRedisLimiter(redisClient, "authgate:rl")
		deps.GlobalRateLimiter = middleware.NewDistributedRateLimiterWithKey(
			backend, cfg.APIRateLimitRPM, time.Minute, middleware.FailOpen, "api",
			middleware.SubjectOrIPKeyFunc(jwtMgr),
		).Middleware()
		deps.AuthRateLimiter = middleware.NewDistributedRateLimiterWithKey(
			backend, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth", nil,
		).Middleware()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go reaper.Run(reaperCtx)

	a := app.New(cfg, logger, server, runtime, db, redisClient, readiness, stopReaper)
	return a.Run(ctx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if !cfg.IsProd() {
		logLevel = gormlogger.Info
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error
	if cfg.DatabaseURL != "" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open("authgate.db"), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.TwoFactorToken{},
		&domain.VerificationToken{},
		&domain.VerificationAttempt{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
