// Thread HTTP handlers.
//
// This file exposes REST endpoints for thread resources:
//   - POST   /threads                   (create with participant roster)
//   - GET    /threads                   (list, paginated, ETag support)
//   - GET    /threads/{id}              (fetch with roster)
//   - PUT    /threads/{id}/title        (rename)
//   - PUT    /threads/{id}/web-search   (toggle pre-search default)
//   - GET    /threads/{id}/messages     (list, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/services"
	"github.com/sinaneshat/roundtable-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ThreadService defines thread lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ThreadService interface {
	// Create starts a new thread for userID with the given roster.
	Create(ctx context.Context, userID, title string, enableWebSearch bool, roster []services.ParticipantSpec) (*domain.Thread, []domain.Participant, error)
	// Get returns a thread and its enabled roster.
	Get(ctx context.Context, userID, threadID string) (*domain.Thread, []domain.Participant, error)
	// ListPage returns a page of threads for a user and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Thread, int64, error)
	// UpdateTitle renames a thread that belongs to userID.
	UpdateTitle(ctx context.Context, userID, threadID, title string) error
	// SetWebSearch toggles the thread's pre-search default.
	SetWebSearch(ctx context.Context, userID, threadID string, enabled bool) error
	// MessagesPage returns a page of messages within a thread and the total count.
	MessagesPage(ctx context.Context, userID, threadID string, page, pageSize int) ([]domain.Message, int64, error)
}

// RoundService drives a submitted turn to a terminal phase, reporting
// progress through the emit callback.
type RoundService interface {
	SubmitTurn(ctx context.Context, userID, threadID, prompt string, webSearchOverride *bool, emit services.EmitFunc) (int, error)
}

// ResumeService answers where a thread's in-flight round stands.
type ResumeService interface {
	Resume(ctx context.Context, userID, threadID string) (*services.ResumeState, error)
}

// AnalysisService exposes analysis retrieval and retry.
type AnalysisService interface {
	Get(ctx context.Context, userID, threadID, analysisID string) (*domain.AnalysisRecord, error)
	Retry(ctx context.Context, userID, threadID, analysisID string, emit services.EmitFunc) (*domain.AnalysisRecord, error)
}

// TurnIdempotency replays and records Idempotency-Key turn submissions. It
// may be nil, in which case turns always run fresh.
type TurnIdempotency interface {
	Replay(ctx context.Context, userID, threadID, key string) (*domain.Message, error)
	Store(ctx context.Context, userID, threadID, key string, round int) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for threads, turns, resume, and analyses.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	threadSvc   ThreadService
	roundSvc    RoundService
	resumeSvc   ResumeService
	analysisSvc AnalysisService
	idem        TurnIdempotency
}

// New constructs and returns a Handlers instance bound to the given services.
// idem may be nil to disable turn replay.
func New(threadSvc ThreadService, roundSvc RoundService, resumeSvc ResumeService, analysisSvc AnalysisService, idem TurnIdempotency) *Handlers {
	return &Handlers{threadSvc: threadSvc, roundSvc: roundSvc, resumeSvc: resumeSvc, analysisSvc: analysisSvc, idem: idem}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// ParticipantRequest describes one roster entry in a create-thread payload.
type ParticipantRequest struct {
	// Model is the upstream model identifier.
	Model string `json:"model" binding:"required" example:"gpt-4o"`
	// Role labels the participant's perspective in the discussion.
	Role string `json:"role" binding:"required" example:"skeptic"`
	// SystemPrompt optionally overrides the generated system prompt.
	SystemPrompt string `json:"system_prompt" example:"Challenge every claim."`
}

// CreateThreadRequest is the JSON payload for creating a thread.
type CreateThreadRequest struct {
	// Title optionally sets the thread title; a default is used when empty.
	Title string `json:"title" example:"Future of fusion power"`
	// EnableWebSearch sets the thread's pre-search default.
	EnableWebSearch bool `json:"enable_web_search"`
	// Participants is the roster, in speaking order.
	Participants []ParticipantRequest `json:"participants" binding:"required,min=1"`
}

// CreateThreadResponse wraps a created thread and its roster.
type CreateThreadResponse struct {
	Thread       domain.Thread        `json:"thread"`
	Participants []domain.Participant `json:"participants"`
}

// UpdateThreadTitleRequest is the JSON payload for updating a thread title.
type UpdateThreadTitleRequest struct {
	// Title is the new thread name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Fusion debate, week 2"`
}

// SetWebSearchRequest toggles the thread's pre-search default.
type SetWebSearchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListThreadsResponse wraps a page of threads and pagination information.
type ListThreadsResponse struct {
	Threads    []domain.Thread `json:"threads"`
	Pagination Pagination      `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateThread godoc
// @ID          createThread
// @Summary     Create a new thread
// @Description Creates a roundtable thread with its participant roster.
// @Tags        Threads
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateThreadRequest  true  "Create thread payload"
//
// @Success     201  {object}  handlers.CreateThreadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /threads [post]
func (h *Handlers) CreateThread(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	roster := make([]services.ParticipantSpec, 0, len(req.Participants))
	for _, p := range req.Participants {
		roster = append(roster, services.ParticipantSpec{
			Model:        strings.TrimSpace(p.Model),
			Role:         strings.TrimSpace(p.Role),
			SystemPrompt: p.SystemPrompt,
		})
	}

	th, ps, err := h.threadSvc.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.Title), req.EnableWebSearch, roster)
	if err != nil {
		if errors.Is(err, services.ErrNoParticipants) || errors.Is(err, services.ErrTooLong) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, CreateThreadResponse{Thread: *th, Participants: ps})
}

// ListThreads godoc
// @ID          listThreads
// @Summary     List threads (paginated)
// @Description Returns a page of the user's threads. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Threads
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListThreadsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /threads [get]
func (h *Handlers) ListThreads(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.threadSvc.(*services.ThreadService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ThreadsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"threads:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.threadSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListThreadsResponse{
		Threads: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetThread godoc
// @ID          getThread
// @Summary     Fetch a thread
// @Description Returns a thread and its enabled participant roster.
// @Tags        Threads
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
//
// @Success     200  {object} handlers.CreateThreadResponse
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Router      /threads/{id} [get]
func (h *Handlers) GetThread(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	th, ps, err := h.threadSvc.Get(c.Request.Context(), userID(c), threadID)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, CreateThreadResponse{Thread: *th, Participants: ps})
}

// UpdateThreadTitle godoc
// @ID          updateThreadTitle
// @Summary     Rename a thread
// @Description Updates the title of a thread owned by the current user.
// @Tags        Threads
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       body       body    handlers.UpdateThreadTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Router      /threads/{id}/title [put]
func (h *Handlers) UpdateThreadTitle(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req UpdateThreadTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	if err := h.threadSvc.UpdateTitle(c.Request.Context(), userID(c), threadID, req.Title); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
		return
	}
	noContent(c)
}

// SetWebSearch godoc
// @ID          setWebSearch
// @Summary     Toggle the thread's pre-search default
// @Description Sets whether rounds of this thread run the web-search phase by default.
// @Tags        Threads
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       body       body    handlers.SetWebSearchRequest  true  "Toggle payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Router      /threads/{id}/web-search [put]
func (h *Handlers) SetWebSearch(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req SetWebSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled (boolean) required")
		return
	}

	if err := h.threadSvc.SetWebSearch(c.Request.Context(), userID(c), threadID, *req.Enabled); err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a thread (paginated)
// @Description Returns a page of messages. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Thread ID (UUID)"            format(uuid)
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Router      /threads/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.threadSvc.(*services.ThreadService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, threadID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, threadID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.threadSvc.MessagesPage(ctx, uid, threadID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
