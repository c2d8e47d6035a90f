// Command server runs the roundtable HTTP API. It loads configuration from
// the environment (optionally a .env file), opens the SQLite database and the
// Pebble stream-buffer store, builds the pre-search index, wires the model
// provider, and serves the Gin router with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sinaneshat/roundtable-backend/internal/config"
	httpapi "github.com/sinaneshat/roundtable-backend/internal/http"
	"github.com/sinaneshat/roundtable-backend/internal/kv"
	"github.com/sinaneshat/roundtable-backend/internal/observability"
	"github.com/sinaneshat/roundtable-backend/internal/provider"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/search"
	"github.com/sinaneshat/roundtable-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")) {
		// Init-container mode: apply the schema and exit.
		log.Info().Msg("migrations applied, exiting (MIGRATE_ONLY)")
		return
	}

	store, err := kv.Open(cfg.KVPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.KVPath).Msg("open kv store failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("kv close")
		}
	}()

	idx, err := search.NewIndexFromMarkdown(cfg.DataPath)
	if err != nil {
		// Pre-search degrades to empty results rather than blocking startup.
		log.Warn().Err(err).Str("path", cfg.DataPath).Msg("pre-search corpus unavailable")
		idx = search.NewIndexFromStrings(nil)
	}

	ai := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
	})

	gin.SetMode(cfg.GinMode)
	r := gin.New()

	// Compress responses, but never the SSE endpoints: gzip buffering would
	// defeat incremental delivery of round events.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/turns$`, `.*/resume$`})))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	httpapi.RegisterRoutes(r, db, idx, store, ai, cfg)

	srv := &http.Server{
		Addr:              sysutil.FirstNonEmpty(os.Getenv("BIND_ADDR"), ":"+cfg.Port),
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
