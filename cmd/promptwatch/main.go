package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	analyzeradapter "github.com/asialea/promptwatch/internal/adapter/driven/analyzer"
	deviceadapter "github.com/asialea/promptwatch/internal/adapter/driven/device"
	oauthadapter "github.com/asialea/promptwatch/internal/adapter/driven/oauth"
	pageadapter "github.com/asialea/promptwatch/internal/adapter/driven/page"
	sqliteadapter "github.com/asialea/promptwatch/internal/adapter/driven/sqlite"
	httphandler "github.com/asialea/promptwatch/internal/adapter/driving/http"
	"github.com/asialea/promptwatch/internal/application"
	"github.com/asialea/promptwatch/internal/bus"
	"github.com/asialea/promptwatch/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"pages", len(cfg.Pages),
		"base_interval", cfg.BaseInterval,
		"auth_provider", cfg.HasAuthProvider(),
		"encrypted_state", cfg.SecretKey != nil,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire the state store and agent bus. State changes are mirrored to
	// the debug log; values are omitted because credentials pass through
	// the store.
	store := sqliteadapter.NewStateRepo(db, cfg.SecretKey)
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for change := range changes {
			slog.Debug("state changed", "key", change.Key, "deleted", change.Deleted)
		}
	}()

	agent := bus.New()

	// 6. Start the session service. It owns the credential keys of the state
	// store and answers every bus request, with or without a configured
	// provider; without one, login requests fail and deliveries stay
	// unauthenticated.
	gateway := oauthadapter.NewGateway(cfg.TokenURL, cfg.UserinfoURL, cfg.RevokeURL, cfg.ClientID, cfg.RedirectAddr)
	sessionSvc := application.NewSessionService(store, gateway, agent, application.SessionConfig{
		AuthorizeURL: cfg.AuthorizeURL,
		ClientID:     cfg.ClientID,
		RedirectURI:  gateway.RedirectURI(),
		Scopes:       cfg.Scopes,
		StrictState:  cfg.StrictState,
	})
	go sessionSvc.Run(ctx)

	// 7. Wire the delivery pipeline and one capture scheduler per page.
	delivery := application.NewDeliveryService(agent, store, analyzeradapter.NewClient(), cfg.AnalyzeEndpoint)
	signals := deviceadapter.New(cfg.SaveData)

	for _, pageURL := range cfg.Pages {
		source := pageadapter.NewSource(pageURL)
		scheduler := application.NewCaptureScheduler(
			source,
			signals,
			store,
			delivery,
			source.Origin(),
			cfg.IdleDelay,
			cfg.BaseInterval,
			cfg.MinInterval,
		)
		go scheduler.Run(ctx)
		slog.Info("capture scheduler started", "origin", source.Origin())
	}
	if len(cfg.Pages) == 0 {
		slog.Info("no pages configured, capture disabled (set PROMPTWATCH_PAGES)")
	}

	// 8. Serve the local control API.
	apiHandler := httphandler.NewHandler(store, agent, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("promptwatch started",
		"listen_addr", cfg.ListenAddr,
		"analyze_endpoint", cfg.AnalyzeEndpoint,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
