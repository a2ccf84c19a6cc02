package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env        string
	ListenAddr string
	BaseURL    string

	DatabaseURL string
	RedisAddr   string

	JWTSecret        string
	SessionPepper    string
	SecretBoxKey     []byte
	CookieDomain     string
	TOTPIssuer       string
	BcryptCost       int
	GeoLookupEnabled bool
	GeoLookupBaseURL string

	SessionTTL         time.Duration
	SessionGracePeriod time.Duration
	SweepInterval      time.Duration
	LastActiveInterval time.Duration
	TwoFactorTokenTTL  time.Duration

	VerificationCodeTTL   time.Duration
	EmailVerifyDailyCap   int
	PasswordResetDailyCap int
	RedeemAttemptCap      int
	RedeemWindow          time.Duration
	PasswordResetCooldown time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	RateLimitBackend string

	OTELEnabled               bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults suitable
// for development. Production deployments must set the secrets explicitly.
func Load() (*Config, error) {
	cfg := &Config{
		Env:        envString("AUTHGATE_ENV", "dev"),
		ListenAddr: envString("AUTHGATE_LISTEN_ADDR", ":8080"),
		BaseURL:    envString("AUTHGATE_BASE_URL", "http://localhost:8080"),

		DatabaseURL: envString("DATABASE_URL", ""),
		RedisAddr:   envString("REDIS_ADDR", ""),

		JWTSecret:        envString("JWT_SECRET", ""),
		SessionPepper:    envString("SESSION_PEPPER", ""),
		CookieDomain:     envString("COOKIE_DOMAIN", ""),
		TOTPIssuer:       envString("TOTP_ISSUER", "authgate"),
		GeoLookupEnabled: envBool("GEO_LOOKUP_ENABLED", true),
		GeoLookupBaseURL: envString("GEO_LOOKUP_BASE_URL", "https://ipapi.co"),

		GoogleClientID:     envString("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envString("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  envString("GOOGLE_REDIRECT_URL", ""),

		CORSOrigins:      envStringSlice("CORS_ORIGINS", nil),
		RateLimitBackend: envString("RATE_LIMIT_BACKEND", "local"),

		OTELEnabled:              envBool("OTEL_ENABLED", false),
		OTELExporterOTLPEndpoint: envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:          envString("OTEL_SERVICE_NAME", "authgate"),
		OTELEnvironment:          envString("OTEL_ENVIRONMENT", "dev"),
	}

	var err error
	if cfg.BcryptCost, err = envInt("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionGracePeriod, err = envDuration("SESSION_GRACE_PERIOD", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LastActiveInterval, err = envDuration("LAST_ACTIVE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.TwoFactorTokenTTL, err = envDuration("TWO_FACTOR_TOKEN_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.VerificationCodeTTL, err = envDuration("VERIFICATION_CODE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.EmailVerifyDailyCap, err = envInt("EMAIL_VERIFY_DAILY_CAP", 10); err != nil {
		return nil, err
	}
	if cfg.PasswordResetDailyCap, err = envInt("PASSWORD_RESET_DAILY_CAP", 5); err != nil {
		return nil, err
	}
	if cfg.RedeemAttemptCap, err = envInt("REDEEM_ATTEMPT_CAP", 5); err != nil {
		return nil, err
	}
	if cfg.RedeemWindow, err = envDuration("REDEEM_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PasswordResetCooldown, err = envDuration("PASSWORD_RESET_COOLDOWN", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.APIRateLimitRPM, err = envInt("API_RATE_LIMIT_RPM", 300); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimitRPM, err = envInt("AUTH_RATE_LIMIT_RPM", 30); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = envDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTELTraceSampleRatio, err = envFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = envDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownObservabilityTimeout, err = envDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if rawKey := envString("SECRET_BOX_KEY", ""); rawKey != "" {
		key, err := hex.DecodeString(rawKey)
		if err != nil {
			return nil, fmt.Errorf("parse SECRET_BOX_KEY: %w", err)
		}
		cfg.SecretBoxKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.SessionPepper == "" {
		missing = append(missing, "SESSION_PEPPER")
	}
	if len(c.SecretBoxKey) == 0 {
		missing = append(missing, "SECRET_BOX_KEY")
	}
	if c.IsProd() && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate config: %s required", strings.Join(missing, ", "))
	}
	if len(c.SecretBoxKey) != 32 {
		return fmt.Errorf("validate config: SECRET_BOX_KEY must be 32 bytes (64 hex chars), got %d", len(c.SecretBoxKey))
	}
	if c.SessionGracePeriod <= 0 {
		return fmt.Errorf("validate config: SESSION_GRACE_PERIOD must be positive")
	}
	return nil
}

func (c *Config) IsProd() bool { return strings.EqualFold(c.Env, "prod") }

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envStringSlice(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
