package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

type Config struct {
	Addr string
	Env  Env

	// Session credential signing.
	SessionSecret string
	SessionTTL    time.Duration

	// Identity provider (WorkOS User Management).
	WorkOSAPIKey   string
	WorkOSClientID string

	// Hosted model for scoring and question generation.
	GeminiAPIKey string
	GeminiModel  string

	// Postgres.
	DatabaseURL string

	// Voice-agent platform websocket.
	VoiceWSURL          string
	VoiceAPIKey         string
	VoiceWorkflowID     string
	VoiceConnectTimeout time.Duration

	// Shared secret for the interview intake webhook (HMAC-SHA256).
	IntakeWebhookSecret string

	// Billing (optional). Setting VOXPREP_STRIPE_API_KEY enables the
	// checkout and webhook endpoints; the rest must then be set too.
	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceID       string
	StripeSuccessURL    string
	StripeCancelURL     string

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Enable only behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket mode (/v1/live).
	LiveMaxJSONMessageBytes int64
	LiveMaxSessionDuration  time.Duration
	LiveMaxSessionsPerUser  int
	LiveHandshakeTimeout    time.Duration
	LiveWSWriteTimeout      time.Duration

	// Budget for the feedback pipeline once a call finishes. Detached from
	// the session context so stop() cannot abort an in-flight run.
	ScoreTimeout time.Duration

	// In-memory limits (per user, or per address before sign-in).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// Production reports whether the deployment should use production hardening
// (Secure cookies in particular).
func (c Config) Production() bool {
	return c.Env == EnvProduction
}

// BillingEnabled reports whether the Stripe endpoints are configured.
func (c Config) BillingEnabled() bool {
	return c.StripeAPIKey != ""
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VOXPREP_ADDR", ":8080"),
		Env:                     Env(envOr("VOXPREP_ENV", string(EnvDevelopment))),
		SessionSecret:           envOr("VOXPREP_SESSION_SECRET", ""),
		SessionTTL:              envDurationOr("VOXPREP_SESSION_TTL", 7*24*time.Hour),
		WorkOSAPIKey:            envOr("VOXPREP_WORKOS_API_KEY", ""),
		WorkOSClientID:          envOr("VOXPREP_WORKOS_CLIENT_ID", ""),
		GeminiAPIKey:            envOr("VOXPREP_GEMINI_API_KEY", ""),
		GeminiModel:             envOr("VOXPREP_GEMINI_MODEL", "gemini-2.0-flash-001"),
		DatabaseURL:             envOr("VOXPREP_DATABASE_URL", ""),
		VoiceWSURL:              envOr("VOXPREP_VOICE_WS_URL", ""),
		VoiceAPIKey:             envOr("VOXPREP_VOICE_API_KEY", ""),
		VoiceWorkflowID:         envOr("VOXPREP_VOICE_WORKFLOW_ID", ""),
		VoiceConnectTimeout:     envDurationOr("VOXPREP_VOICE_CONNECT_TIMEOUT", 15*time.Second),
		IntakeWebhookSecret:     envOr("VOXPREP_INTAKE_WEBHOOK_SECRET", ""),
		StripeAPIKey:            envOr("VOXPREP_STRIPE_API_KEY", ""),
		StripeWebhookSecret:     envOr("VOXPREP_STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:           envOr("VOXPREP_STRIPE_PRICE_ID", ""),
		StripeSuccessURL:        envOr("VOXPREP_STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:         envOr("VOXPREP_STRIPE_CANCEL_URL", ""),
		TrustProxyHeaders:       envBoolOr("VOXPREP_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:            envInt64Or("VOXPREP_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxJSONMessageBytes: envInt64Or("VOXPREP_LIVE_MAX_JSON_MESSAGE_BYTES", 32*1024),
		LiveMaxSessionDuration:  envDurationOr("VOXPREP_LIVE_MAX_DURATION", time.Hour),
		LiveMaxSessionsPerUser:  envIntOr("VOXPREP_LIVE_MAX_SESSIONS_PER_USER", 2),
		LiveHandshakeTimeout:    envDurationOr("VOXPREP_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VOXPREP_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		ScoreTimeout:            envDurationOr("VOXPREP_SCORE_TIMEOUT", 2*time.Minute),
		LimitRPS:                envFloat64Or("VOXPREP_RATE_LIMIT_RPS", 5.0),
		LimitBurst:              envIntOr("VOXPREP_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests: envIntOr("VOXPREP_MAX_CONCURRENT_REQUESTS", 50),
		ReadHeaderTimeout:          envDurationOr("VOXPREP_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("VOXPREP_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("VOXPREP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return Config{}, fmt.Errorf("VOXPREP_ENV must be one of development|production")
	}

	for _, origin := range splitCSV(os.Getenv("VOXPREP_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("VOXPREP_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return Config{}, fmt.Errorf("VOXPREP_SESSION_SECRET must be set")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SESSION_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.WorkOSAPIKey) == "" {
		return Config{}, fmt.Errorf("VOXPREP_WORKOS_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.WorkOSClientID) == "" {
		return Config{}, fmt.Errorf("VOXPREP_WORKOS_CLIENT_ID must be set")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("VOXPREP_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("VOXPREP_GEMINI_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("VOXPREP_DATABASE_URL must be set")
	}
	if strings.TrimSpace(cfg.VoiceWSURL) == "" {
		return Config{}, fmt.Errorf("VOXPREP_VOICE_WS_URL must be set")
	}
	if strings.TrimSpace(cfg.VoiceAPIKey) == "" {
		return Config{}, fmt.Errorf("VOXPREP_VOICE_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.VoiceWorkflowID) == "" {
		return Config{}, fmt.Errorf("VOXPREP_VOICE_WORKFLOW_ID must be set")
	}
	if cfg.VoiceConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_VOICE_CONNECT_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.IntakeWebhookSecret) == "" {
		return Config{}, fmt.Errorf("VOXPREP_INTAKE_WEBHOOK_SECRET must be set")
	}
	if cfg.BillingEnabled() {
		if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
			return Config{}, fmt.Errorf("VOXPREP_STRIPE_WEBHOOK_SECRET must be set when billing is enabled")
		}
		if strings.TrimSpace(cfg.StripePriceID) == "" {
			return Config{}, fmt.Errorf("VOXPREP_STRIPE_PRICE_ID must be set when billing is enabled")
		}
		if strings.TrimSpace(cfg.StripeSuccessURL) == "" {
			return Config{}, fmt.Errorf("VOXPREP_STRIPE_SUCCESS_URL must be set when billing is enabled")
		}
		if strings.TrimSpace(cfg.StripeCancelURL) == "" {
			return Config{}, fmt.Errorf("VOXPREP_STRIPE_CANCEL_URL must be set when billing is enabled")
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.LiveMaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_LIVE_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ScoreTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SCORE_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VOXPREP_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VOXPREP_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
