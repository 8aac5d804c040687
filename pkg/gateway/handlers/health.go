package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is the slice of the store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports how many live call sessions are currently running.
type SessionCounter interface {
	Len() int
}

// ReadyHandler reports whether the server should receive traffic: the config
// is coherent, the database answers, and the process is not draining.
type ReadyHandler struct {
	Config    config.Config
	DB        Pinger
	Live      SessionCounter
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Env            string   `json:"env"`
		BillingEnabled bool     `json:"billing_enabled"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		LiveSessions   int      `json:"live_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}

	switch h.Config.Env {
	case config.EnvDevelopment, config.EnvProduction:
	default:
		issues = append(issues, "invalid env")
	}
	if strings.TrimSpace(h.Config.SessionSecret) == "" {
		issues = append(issues, "session secret is not configured")
	}
	if strings.TrimSpace(h.Config.WorkOSAPIKey) == "" || strings.TrimSpace(h.Config.WorkOSClientID) == "" {
		issues = append(issues, "identity provider is not configured")
	}
	if strings.TrimSpace(h.Config.GeminiAPIKey) == "" || strings.TrimSpace(h.Config.GeminiModel) == "" {
		issues = append(issues, "scoring model is not configured")
	}
	if strings.TrimSpace(h.Config.VoiceWSURL) == "" || strings.TrimSpace(h.Config.VoiceAPIKey) == "" {
		issues = append(issues, "voice platform is not configured")
	}
	if strings.TrimSpace(h.Config.VoiceWorkflowID) == "" {
		issues = append(issues, "voice workflow id is not configured")
	}
	if strings.TrimSpace(h.Config.IntakeWebhookSecret) == "" {
		issues = append(issues, "intake webhook secret is not configured")
	}
	if h.Config.BillingEnabled() {
		if strings.TrimSpace(h.Config.StripeWebhookSecret) == "" ||
			strings.TrimSpace(h.Config.StripePriceID) == "" ||
			strings.TrimSpace(h.Config.StripeSuccessURL) == "" ||
			strings.TrimSpace(h.Config.StripeCancelURL) == "" {
			issues = append(issues, "billing is partially configured")
		}
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max body bytes must be > 0")
	}
	if h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live max json message bytes must be > 0")
	}
	if h.Config.LiveMaxSessionDuration <= 0 {
		issues = append(issues, "live max session duration must be > 0")
	}
	if h.Config.LiveMaxSessionsPerUser <= 0 {
		issues = append(issues, "live max sessions per user must be > 0")
	}
	if h.Config.ScoreTimeout <= 0 {
		issues = append(issues, "score timeout must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.ShutdownGracePeriod <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentRequests > 0

	liveSessions := 0
	if h.Live != nil {
		liveSessions = h.Live.Len()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:             ok,
		Env:            string(h.Config.Env),
		BillingEnabled: h.Config.BillingEnabled(),
		LimitsEnabled:  limitsEnabled,
		LiveSessions:   liveSessions,
		Issues:         issues,
	})
}
