package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/strava-mcp/internal/auth"
	"github.com/erauner12/strava-mcp/internal/db"
	"github.com/erauner12/strava-mcp/internal/httpapi"
	mcpauth "github.com/erauner12/strava-mcp/internal/mcpserver/auth"
	"github.com/erauner12/strava-mcp/internal/mcpserver/client"
	"github.com/erauner12/strava-mcp/internal/mcpserver/config"
	"github.com/erauner12/strava-mcp/internal/mcpserver/server"
	"github.com/erauner12/strava-mcp/internal/mcpserver/tools"
	"github.com/erauner12/strava-mcp/internal/oauthserver"
	"github.com/erauner12/strava-mcp/internal/oauthserver/pgstore"
	"github.com/erauner12/strava-mcp/internal/strava"
)

var version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	addr        = flag.String("addr", "", "Listen address (overrides config)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("strava-mcp version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("publicUrl", cfg.PublicURL).
		Str("addr", cfg.Addr).
		Bool("postgres", cfg.DatabaseURL != "").
		Int("allowlist", len(cfg.Allowlist)).
		Msg("starting Strava MCP server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}

	log.Info().Msg("Strava MCP server stopped gracefully")
}

// loadConfig loads file and environment configuration, then applies flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *debug {
		cfg.Debug = true
		if *logLevel == "" {
			cfg.LogLevel = "debug"
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Caller().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Str("service", "strava-mcp").
			Logger()
	}

	// log.Ctx falls back to the global logger for contexts without one
	zerolog.DefaultContextLogger = &log.Logger
}

// run wires every component and serves until ctx is cancelled
func run(ctx context.Context, cfg *config.Config) error {
	storage, pool, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	sealer, err := oauthserver.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create sealer: %w", err)
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.SigningSecret,
		Issuer:      cfg.BaseURL(),
		Audience:    cfg.BaseURL() + "/mcp",
	}

	oauth, err := oauthserver.NewServer(storage, sealer, oauthserver.Config{
		Issuer:                  cfg.BaseURL(),
		JWT:                     jwtCfg,
		AccessTokenTTL:          cfg.OAuth.AccessTokenTTL.Std(),
		RefreshTokenTTL:         cfg.OAuth.RefreshTokenTTL.Std(),
		CodeTTL:                 cfg.OAuth.CodeTTL.Std(),
		RequirePKCE:             cfg.OAuth.RequirePKCE,
		AllowedRedirectPatterns: cfg.OAuth.AllowedRedirectPatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	oauth.StartCleanupRoutine(ctx, cfg.OAuth.CleanupInterval.Std())

	timeout := cfg.UpstreamTimeout.Std()
	upstream := strava.NewOAuthClient(cfg.Strava.AuthorizeURL, cfg.Strava.TokenURL, timeout)
	allowlist := mcpauth.NewAllowlist(cfg.Allowlist)

	bridge := mcpauth.NewBridge(mcpauth.BridgeConfig{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		Scope:        cfg.Strava.Scope,
		CallbackURL:  cfg.CallbackURL(),
		Allowlist:    allowlist,
	}, oauth, upstream, mcpauth.NewAthleteFetcher(cfg.Strava.APIBaseURL, timeout))

	refresher := mcpauth.NewRefresher(upstream, cfg.Strava.ClientID, cfg.Strava.ClientSecret)
	loader := mcpauth.NewSessionLoader(oauth, refresher, allowlist, cfg.Strava.TokenLifetime.Std())

	registry := tools.NewRegistry()
	tools.RegisterAllTools(registry)

	mcp := server.NewMCPServer(server.Options{
		AllowedOrigins:      cfg.AllowedOrigins,
		ResourceMetadataURL: oauth.ResourceMetadataURL(),
		SessionTTL:          cfg.SessionTTL.Std(),
		Version:             version,
	}, loader, func(_ context.Context, sess *mcpauth.Session) tools.StravaAPI {
		return client.NewHTTPClient(cfg.Strava.APIBaseURL, loader.TokenProvider(sess), timeout)
	}, registry)
	mcp.Sessions().StartCleanup(ctx, 5*time.Minute)

	srv := &httpapi.Server{
		OAuth:  oauth,
		Bridge: bridge,
		MCP:    mcp,
		JWT:    jwtCfg,
	}
	if cfg.RateLimit.Enabled() {
		srv.RateLimit = httpapi.NewRateLimiter(httpapi.RateLimitInfo{
			WindowSeconds: cfg.RateLimit.WindowSeconds,
			MaxRequests:   cfg.RateLimit.MaxRequests,
			Burst:         cfg.RateLimit.Burst,
		})
		srv.RateLimit.StartCleanup(ctx, 10*time.Minute)
	}
	if pool != nil {
		srv.Ready = pool.Ping
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: SSE streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("callback", cfg.CallbackURL()).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStorage picks PostgreSQL when a database URL is configured and
// falls back to process memory otherwise
func openStorage(ctx context.Context, cfg *config.Config) (oauthserver.Storage, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no database configured; grants are kept in memory and lost on restart")
		return oauthserver.NewMemoryStorage(), nil, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgstore.New(pool), pool, nil
}
