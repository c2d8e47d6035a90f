// Stream resume handler.
//
// GET /threads/{id}/resume tells a reconnecting client where the thread's
// in-flight round stands. A 204 means nothing is streaming; a 200 carries the
// stream id, round, participant index, and every chunk buffered so far, which
// the client replays before attaching to live deltas.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sinaneshat/roundtable-backend/internal/services"
)

// ResumeStream godoc
// @ID          resumeStream
// @Summary     Resume an in-flight round
// @Description Returns the active stream position and buffered chunks, or 204 when idle. Stale streams are retired as a side effect.
// @Tags        Turns
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
//
// @Success     200  {object} services.ResumeState
// @Success     204  {string} string "No active stream"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Router      /threads/{id}/resume [get]
func (h *Handlers) ResumeStream(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	state, err := h.resumeSvc.Resume(c.Request.Context(), userID(c), threadID)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeResumeFailed, err.Error())
		return
	}
	if state == nil {
		noContent(c)
		return
	}
	ok(c, http.StatusOK, state)
}
