// Command server runs the messaging backend HTTP API.
//
// Startup order:
//  1. Load .env (best effort) and environment configuration
//  2. Configure global zerolog output and level
//  3. Open SQLite and run migrations
//  4. Initialize OpenTelemetry (optional, config-driven)
//  5. Register routes and serve with graceful shutdown
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-messaging-backend/internal/config"
	httpapi "github.com/tbourn/go-messaging-backend/internal/http"
	"github.com/tbourn/go-messaging-backend/internal/observability"
	"github.com/tbourn/go-messaging-backend/internal/repo"
	"github.com/tbourn/go-messaging-backend/internal/services"
	"github.com/tbourn/go-messaging-backend/internal/sysutil"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments configure the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Container images may carry the release tag in APP_VERSION instead of
	// rebuilding with -ldflags.
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("init opentelemetry")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	gin.SetMode(cfg.GinMode)
	r := gin.New()

	// No external user directory is wired by default; templates fall back to
	// names derived from the user ids.
	var dir services.UserDirectory
	httpapi.RegisterRoutes(r, db, dir, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
