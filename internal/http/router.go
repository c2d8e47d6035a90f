// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sinaneshat/roundtable-backend/internal/config"
	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/http/handlers"
	"github.com/sinaneshat/roundtable-backend/internal/http/middleware"
	"github.com/sinaneshat/roundtable-backend/internal/kv"
	"github.com/sinaneshat/roundtable-backend/internal/provider"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/search"
	"github.com/sinaneshat/roundtable-backend/internal/services"
	"github.com/sinaneshat/roundtable-backend/internal/stream"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// threadRepoShim adapts the repository free functions to the
// services.ThreadRepo interface expected by the ThreadService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type threadRepoShim struct{}

// CreateThread proxies repo.CreateThread.
func (threadRepoShim) CreateThread(ctx context.Context, db *gorm.DB, userID, title string, enableWebSearch bool) (*domain.Thread, error) {
	return repo.CreateThread(ctx, db, userID, title, enableWebSearch)
}

// GetThread proxies repo.GetThread.
func (threadRepoShim) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return repo.GetThread(ctx, db, id, userID)
}

// CountThreads proxies repo.CountThreads (pagination support).
func (threadRepoShim) CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountThreads(ctx, db, userID)
}

// ListThreadsPage proxies repo.ListThreadsPage (pagination support).
func (threadRepoShim) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error) {
	return repo.ListThreadsPage(ctx, db, userID, offset, limit)
}

// UpdateThreadTitle proxies repo.UpdateThreadTitle.
func (threadRepoShim) UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateThreadTitle(ctx, db, id, userID, title)
}

// SetThreadWebSearch proxies repo.SetThreadWebSearch.
func (threadRepoShim) SetThreadWebSearch(ctx context.Context, db *gorm.DB, id, userID string, enabled bool) error {
	return repo.SetThreadWebSearch(ctx, db, id, userID, enabled)
}

// CreateParticipant proxies repo.CreateParticipant.
func (threadRepoShim) CreateParticipant(ctx context.Context, db *gorm.DB, threadID string, index int, model, role, systemPrompt string) (*domain.Participant, error) {
	return repo.CreateParticipant(ctx, db, threadID, index, model, role, systemPrompt)
}

// ListParticipants proxies repo.ListParticipants.
func (threadRepoShim) ListParticipants(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Participant, error) {
	return repo.ListParticipants(ctx, db, threadID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, idx search.Index, store *kv.Store, ai provider.Streamer, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	services.RegisterMetrics(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, threadID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, threadID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/kv/index/provider
	coordinator := stream.NewCoordinator(store)
	buffers := stream.NewBuffer(store)

	threadSvc := services.NewThreadService(db, threadRepoShim{})
	threadSvc.MaxParticipants = cfg.MaxParticipants

	preSearchSvc := &services.PreSearchService{
		DB:       db,
		Searcher: &services.IndexSearcher{Index: idx, TopK: cfg.SearchTopK},
	}
	analysisSvc := &services.AnalysisService{
		DB:        db,
		Provider:  ai,
		Model:     cfg.Provider.ModeratorModel,
		MaxTokens: cfg.Provider.MaxTokens,
	}
	roundSvc := &services.RoundService{
		DB:             db,
		Provider:       ai,
		PreSearch:      preSearchSvc,
		Analysis:       analysisSvc,
		Coordinator:    coordinator,
		Buffers:        buffers,
		MaxPromptRunes: cfg.MaxPromptRunes,
		MaxTokens:      cfg.Provider.MaxTokens,
		TitleLocale:    language.English,
		TitleMaxLen:    threadSvc.TitleMaxLen,
	}
	resumeSvc := &services.ResumeService{
		DB:          db,
		Coordinator: coordinator,
		Buffers:     buffers,
	}
	idemSvc := &services.IdempotencyService{DB: db}

	h := handlers.New(threadSvc, roundSvc, resumeSvc, analysisSvc, idemSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Threads
		api.POST("/threads", h.CreateThread)
		api.GET("/threads", h.ListThreads)
		api.GET("/threads/:id", h.GetThread)
		api.PUT("/threads/:id/title", h.UpdateThreadTitle)
		api.PUT("/threads/:id/web-search", h.SetWebSearch)

		// Messages
		api.GET("/threads/:id/messages", h.ListMessages)

		// Rounds (SSE)
		api.POST("/threads/:id/turns", h.SubmitTurn)
		api.GET("/threads/:id/resume", h.ResumeStream)

		// Analyses
		api.GET("/threads/:id/analyses/:analysisId", h.GetAnalysis)
		api.POST("/threads/:id/analyses/:analysisId/retry", h.RetryAnalysis)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
