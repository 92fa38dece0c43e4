// project-os server: Google login, third-party connections (Granola MCP,
// Google Calendar), transcript imports, and an assistant-facing MCP endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/project-os/internal/api"
	"github.com/kuitang/project-os/internal/archive"
	"github.com/kuitang/project-os/internal/auth"
	"github.com/kuitang/project-os/internal/config"
	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/granola"
	mcpserver "github.com/kuitang/project-os/internal/mcp"
	"github.com/kuitang/project-os/internal/oauth"
	"github.com/kuitang/project-os/internal/obs"
	"github.com/kuitang/project-os/internal/projects"
	"github.com/kuitang/project-os/internal/ratelimit"
	"github.com/kuitang/project-os/internal/summarize"
	"github.com/kuitang/project-os/internal/transcripts"
)

const (
	sessionCleanupInterval = time.Hour
	pendingSweepInterval   = 10 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	obs.Init()

	noOIDC, noS3, addr := config.ParseFlags()
	cfg := config.MustLoadConfig(noOIDC, noS3, addr)

	if err := run(cfg); err != nil {
		obs.Pkg("main").Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := obs.Pkg("main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	// Login identity: real Google OIDC, or an in-process issuer for dev.
	var oidcClient auth.OIDCClient
	if cfg.NoOIDC {
		mock, err := auth.StartMockProvider(ctx)
		if err != nil {
			return fmt.Errorf("start mock OIDC provider: %w", err)
		}
		defer mock.Shutdown()
		mock.QueueUser("dev@localhost", "Dev User")
		logger.Info("mock_oidc_started", "issuer", mock.Issuer())
		oidcClient = mock.Client()
	} else {
		client, err := auth.NewGoogleOIDCClient(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret)
		if err != nil {
			return fmt.Errorf("google OIDC discovery: %w", err)
		}
		oidcClient = client
	}

	secureCookies := cfg.RequireSecureCookies()
	users := auth.NewUserService(database)
	sessions := auth.NewSessionService(database, secureCookies)
	sessions.StartCleanup(ctx, sessionCleanupInterval)
	authMiddleware := auth.NewMiddleware(sessions)

	// Third-party connections.
	tokens := oauth.NewTokenStore(database)
	pending := oauth.NewPendingStore(database)
	pending.StartSweeper(ctx, pendingSweepInterval)

	granolaOAuth := oauth.NewGranolaClient(database, tokens, cfg.GranolaAuthBaseURL, nil)
	// Always constructed: empty credentials make the client report itself
	// unconfigured instead of disabling the routes.
	calendar := oauth.NewGoogleCalendarClient(tokens, cfg.GoogleCalendarClientID, cfg.GoogleCalendarClientSecret)

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	// Transcript pipeline.
	mcpClient := granola.NewClient(cfg.GranolaMCPURL, nil)

	var archiver transcripts.Archiver
	if !cfg.NoS3 {
		store, err := archive.New(ctx, archive.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Bucket:          cfg.AWSBucketName,
		})
		if err != nil {
			return fmt.Errorf("init transcript archive: %w", err)
		}
		archiver = store
	}

	var summarizer transcripts.Summarizer
	if cfg.OpenAIAPIKey != "" {
		summarizer = summarize.New(cfg.OpenAIAPIKey, "")
	}

	projectsSvc := projects.NewService(database)
	transcriptsSvc := transcripts.NewService(database, mcpClient, granolaOAuth, cfg.GranolaAPIToken, archiver, summarizer)

	// Routes.
	mux := http.NewServeMux()
	auth.NewHandlers(oidcClient, users, sessions, cfg.BaseURL, secureCookies).RegisterRoutes(mux)
	oauth.NewHandlers(cfg.BaseURL, granolaOAuth, calendar, pending, tokens, limiter).RegisterRoutes(mux, authMiddleware.RequireAuth)
	api.NewHandler(projectsSvc, transcriptsSvc).RegisterRoutes(mux, authMiddleware.RequireAuth)
	mountMCPRoute(mux, "/mcp", mcpserver.NewServer(projectsSvc, transcriptsSvc, sessions))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	handler := obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	cfg.PrintStartupSummary()
	logger.Info("server_listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server_shutting_down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// mountMCPRoute registers the methods the Streamable HTTP transport uses,
// including OPTIONS for CORS preflight.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}
