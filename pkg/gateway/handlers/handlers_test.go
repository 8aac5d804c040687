package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

func newTestConfig() config.Config {
	return config.Config{
		Addr:                    ":0",
		Env:                     config.EnvDevelopment,
		SessionSecret:           "test-secret",
		SessionTTL:              time.Hour,
		WorkOSAPIKey:            "sk_test",
		WorkOSClientID:          "client_test",
		GeminiAPIKey:            "gm_test",
		GeminiModel:             "gemini-test",
		DatabaseURL:             "postgres://localhost/voxprep_test",
		VoiceWSURL:              "ws://127.0.0.1:1",
		VoiceAPIKey:             "vk_test",
		VoiceWorkflowID:         "wf_test",
		VoiceConnectTimeout:     2 * time.Second,
		IntakeWebhookSecret:     "intake-secret",
		MaxBodyBytes:            1 << 20,
		CORSAllowedOrigins:      map[string]struct{}{},
		LiveMaxJSONMessageBytes: 32 * 1024,
		LiveMaxSessionDuration:  time.Hour,
		LiveMaxSessionsPerUser:  2,
		LiveHandshakeTimeout:    2 * time.Second,
		LiveWSWriteTimeout:      2 * time.Second,
		ScoreTimeout:            2 * time.Second,
		ReadHeaderTimeout:       time.Second,
		ReadTimeout:             5 * time.Second,
		ShutdownGracePeriod:     time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser() *types.User {
	return &types.User{ID: "user_1", Name: "Ada Lovelace", Email: "ada@example.com", Plan: types.PlanFree}
}

// withCaller attaches a request id and, if user is non-nil, a signed-in
// caller, the way the middleware chain would.
func withCaller(r *http.Request, user *types.User) *http.Request {
	ctx := mw.WithRequestID(r.Context(), "req_test")
	if user != nil {
		ctx = auth.WithUser(ctx, user)
	}
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, body io.Reader, dst any) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func wantStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
}
