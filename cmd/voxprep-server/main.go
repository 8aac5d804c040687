package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stripe/stripe-go/v84"
	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"github.com/voxprep/voxprep/internal/dotenv"
	"github.com/voxprep/voxprep/pkg/core/identity"
	"github.com/voxprep/voxprep/pkg/core/scoring"
	"github.com/voxprep/voxprep/pkg/core/session"
	"github.com/voxprep/voxprep/pkg/core/voice"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/server"
	"github.com/voxprep/voxprep/pkg/store"
)

type serverDeps struct {
	loadConfig    func() (config.Config, error)
	buildBackends func(context.Context, config.Config, *slog.Logger) (server.Dependencies, func(), error)
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig:    config.LoadFromEnv,
		buildBackends: buildBackends,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// workosProvider adapts the package-level WorkOS client to identity.Provider.
type workosProvider struct{}

func (workosProvider) CreateUser(ctx context.Context, opts usermanagement.CreateUserOpts) (usermanagement.User, error) {
	return usermanagement.CreateUser(ctx, opts)
}

func (workosProvider) AuthenticateWithPassword(ctx context.Context, opts usermanagement.AuthenticateWithPasswordOpts) (usermanagement.AuthenticateResponse, error) {
	return usermanagement.AuthenticateWithPassword(ctx, opts)
}

// buildBackends connects every external collaborator the server needs. The
// returned cleanup closes the database pool and is safe to call once.
func buildBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.Dependencies, func(), error) {
	st, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return server.Dependencies{}, nil, fmt.Errorf("connect store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return server.Dependencies{}, nil, fmt.Errorf("migrate store: %w", err)
	}

	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, cfg.Production(), st, logger)
	if err != nil {
		st.Close()
		return server.Dependencies{}, nil, fmt.Errorf("session manager: %w", err)
	}

	usermanagement.SetAPIKey(cfg.WorkOSAPIKey)
	ident := identity.NewService(workosProvider{}, cfg.WorkOSClientID, st, logger)

	model, err := scoring.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		st.Close()
		return server.Dependencies{}, nil, fmt.Errorf("scoring model: %w", err)
	}
	scorer := scoring.NewService(model, st, logger)

	voiceClient := voice.NewClient(cfg.VoiceWSURL, cfg.VoiceAPIKey,
		voice.WithConnectTimeout(cfg.VoiceConnectTimeout))

	if cfg.BillingEnabled() {
		stripe.Key = cfg.StripeAPIKey
	}

	return server.Dependencies{
		Store:    st,
		Identity: ident,
		Sessions: sessions,
		Scoring:  scorer,
		Voice:    voiceClient,
	}, st.Close, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildBackends == nil {
		return errors.New("missing buildBackends dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backends, cleanup, err := deps.buildBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	srv := server.New(cfg, logger, backends)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting server",
		"addr", cfg.Addr,
		"env", cfg.Env,
		"billing_enabled", cfg.BillingEnabled(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining(true)
	if n := srv.WarnLiveSessionsDraining(); n > 0 {
		logger.Info("warned live sessions", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitLiveSessions(waitCtx) {
		n := srv.CancelLiveSessions()
		logger.Warn("cancelled live sessions after grace period", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voxprep-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxprep-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
