// Package server assembles the HTTP surface: routes, the middleware chain,
// and the drain hooks main drives during shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxprep/voxprep/pkg/core/scoring"
	"github.com/voxprep/voxprep/pkg/core/session"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/core/voice"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/handlers"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
	"github.com/voxprep/voxprep/pkg/gateway/live/sessions"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
)

// Repository is the slice of the store the HTTP layer reaches for.
// *store.Store satisfies it.
type Repository interface {
	Ping(ctx context.Context) error
	InterviewsByUser(ctx context.Context, userID string) ([]*types.Interview, error)
	LatestInterviews(ctx context.Context, excludeUserID string, limit int) ([]*types.Interview, error)
	InterviewByID(ctx context.Context, id string) (*types.Interview, error)
	FeedbackByInterview(ctx context.Context, interviewID, userID string) (*types.Feedback, error)
	CreateInterview(ctx context.Context, interview *types.Interview) error
	SetUserPlan(ctx context.Context, id, plan string) error
}

// ScoringService runs the feedback and question pipelines. *scoring.Service
// satisfies it.
type ScoringService interface {
	Generate(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) types.FeedbackResult
	GenerateQuestions(ctx context.Context, params scoring.QuestionParams) ([]string, error)
}

// VoiceDialer starts calls against the voice platform. *voice.Client
// satisfies it.
type VoiceDialer interface {
	Start(ctx context.Context, opts voice.StartOptions) (*voice.Call, error)
}

// Dependencies carries the collaborators main constructs. Any of them may be
// nil in tests; the affected routes degrade rather than the whole server.
type Dependencies struct {
	Store    Repository
	Identity handlers.IdentityService
	Sessions *session.Manager
	Scoring  ScoringService
	Voice    VoiceDialer
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	live      *sessions.Registry
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		lifecycle: &lifecycle.Lifecycle{},
		live:      sessions.NewRegistry(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentSessions: cfg.LiveMaxSessionsPerUser,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		DB:        s.deps.Store,
		Live:      s.live,
		Lifecycle: s.lifecycle,
	})

	s.mux.Handle("/v1/auth/", handlers.AuthHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Identity: s.deps.Identity,
		Sessions: s.deps.Sessions,
	})

	interviews := handlers.InterviewsHandler{
		Config: s.cfg,
		Logger: s.logger,
		Store:  s.deps.Store,
	}
	s.mux.Handle("/v1/interviews", interviews)
	s.mux.Handle("/v1/interviews/", interviews)

	s.mux.Handle("/v1/feedback", handlers.FeedbackHandler{
		Config:  s.cfg,
		Logger:  s.logger,
		Scoring: s.deps.Scoring,
	})

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Voice:        s.deps.Voice,
		Scoring:      s.deps.Scoring,
		Store:        s.deps.Store,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.live,
	})

	s.mux.Handle("/v1/integrations/voice/webhook", handlers.IntakeWebhookHandler{
		Config:  s.cfg,
		Logger:  s.logger,
		Store:   s.deps.Store,
		Scoring: s.deps.Scoring,
	})

	s.mux.Handle("/v1/billing/", handlers.BillingHandler{
		Config: s.cfg,
		Logger: s.logger,
		Store:  s.deps.Store,
	})

	// Everything else gets the JSON 404 envelope instead of the mux default.
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Session(s.deps.Sessions, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the readiness probe and makes /v1/live refuse new
// sessions. Requests already in flight are unaffected.
func (s *Server) SetDraining(v bool) {
	s.lifecycle.SetDraining(v)
}

// WarnLiveSessionsDraining tells every running call the server is going away
// and reports how many were reached.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.live.Broadcast("draining", "the server is restarting; this call will end shortly")
}

// WaitLiveSessions blocks until every live call has ended or ctx expires, and
// reports whether the floor cleared.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.live.Wait(ctx)
}

// CancelLiveSessions force-ends every call still running and reports how many
// were cancelled.
func (s *Server) CancelLiveSessions() int {
	return s.live.CancelAll()
}
