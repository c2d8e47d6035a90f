// Turn submission handler.
//
// POST /threads/{id}/turns appends the user's prompt and streams the whole
// round back as Server-Sent Events: pre-search progress, each participant's
// deltas in roster order, and the moderator analysis, ending with a
// round-complete (or round-failed) event.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submission with the same key exists, the handler short-circuits with a JSON
// replay of the original user message and sets `Idempotency-Replayed: true`.
// Replays never re-run the round.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/http/middleware"
	"github.com/sinaneshat/roundtable-backend/internal/services"
)

// SubmitTurnRequest is the JSON payload for submitting a turn.
type SubmitTurnRequest struct {
	// Content is the user's prompt for this round.
	Content string `json:"content" binding:"required" example:"What would it take to ship fusion by 2040?"`
	// EnableWebSearch overrides the thread's pre-search default for this
	// round only. Omit to use the thread default.
	EnableWebSearch *bool `json:"enable_web_search,omitempty"`
}

// TurnReplayResponse is returned when an idempotent submission is replayed.
type TurnReplayResponse struct {
	Replayed bool            `json:"replayed"`
	Message  *domain.Message `json:"message"`
}

// maxTurnRunes caps prompt size at the edge; the service enforces its own
// limit as well.
const maxTurnRunes = 8000

// SubmitTurn godoc
// @ID          submitTurn
// @Summary     Submit a turn and stream the round
// @Description Appends the user prompt and streams the round as SSE. Supports idempotency via the Idempotency-Key header.
// @Tags        Turns
// @Accept      json
// @Produce     text/event-stream
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       body             body    handlers.SubmitTurnRequest  true  "Turn payload"
//
// @Success     200  {string} string "SSE event stream"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Failure     409  {object} handlers.ErrorResponse "Round already in flight"
// @Router      /threads/{id}/turns [post]
func (h *Handlers) SubmitTurn(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req SubmitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if utf8.RuneCountInString(req.Content) > maxTurnRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxTurnRunes))
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path).
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		if prev, err := h.idem.Replay(ctx, currentUser, threadID, idemKey); err == nil && prev != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, TurnReplayResponse{Replayed: true, Message: prev})
			return
		}
	}

	// SSE headers go out lazily with the first event, so validation errors
	// raised before any streaming still map to plain HTTP statuses.
	streaming := false
	emit := func(ev services.RoundEvent) {
		if !streaming {
			hdr := c.Writer.Header()
			hdr.Set("Content-Type", "text/event-stream")
			hdr.Set("Cache-Control", "no-cache")
			hdr.Set("Connection", "keep-alive")
			hdr.Set("X-Accel-Buffering", "no")
			c.Writer.WriteHeader(http.StatusOK)
			streaming = true
		}
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
	}

	round, err := h.roundSvc.SubmitTurn(ctx, currentUser, threadID, req.Content, req.EnableWebSearch, emit)
	if err != nil {
		if streaming {
			// Headers are already out; deliver the failure as a terminal event.
			emit(services.RoundEvent{Type: services.EventRoundFailed, Round: round, Error: turnErrorMessage(err)})
			return
		}
		switch err {
		case services.ErrThreadNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, turnErrorMessage(err))
		case services.ErrEmptyPrompt, services.ErrTooLong, services.ErrNoParticipants:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, turnErrorMessage(err))
		case services.ErrRoundInFlight:
			fail(c, http.StatusConflict, ErrCodeConflict, turnErrorMessage(err))
		default:
			fail(c, http.StatusInternalServerError, ErrCodeTurnFailed, err.Error())
		}
		return
	}

	// Idempotency (store path). Best effort: a failed record only costs the
	// caller a replayed retry.
	if idemKey != "" && h.idem != nil {
		_ = h.idem.Store(ctx, currentUser, threadID, idemKey, round)
	}
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if k, ok := middleware.GetIdempotencyKey(c); ok && k != "" {
		return k, true
	}
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

// turnErrorMessage maps service errors to client-safe messages.
func turnErrorMessage(err error) string {
	switch err {
	case services.ErrThreadNotFound:
		return "thread not found"
	case services.ErrEmptyPrompt:
		return "content required"
	case services.ErrTooLong:
		return "content too long"
	case services.ErrRoundInFlight:
		return "a round is already in flight for this thread"
	case services.ErrNoParticipants:
		return "thread has no enabled participants"
	}
	return err.Error()
}
