// Analysis HTTP handlers.
//
// This file exposes the moderator analysis endpoints:
//   - GET  /threads/{id}/analyses/{analysisId}        (fetch)
//   - POST /threads/{id}/analyses/{analysisId}/retry  (retry a failed analysis)
//
// Retry recreates the round's analysis record and re-runs the moderator model
// synchronously, returning the fresh record when it terminates.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sinaneshat/roundtable-backend/internal/services"
)

// GetAnalysis godoc
// @ID          getAnalysis
// @Summary     Fetch a round analysis
// @Description Returns the moderator analysis record for a round.
// @Tags        Analyses
// @Produce     json
//
// @Param       X-User-ID   header  string  false "User ID (demo header)"  example(user123)
// @Param       id          path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       analysisId  path    string  true  "Analysis ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.AnalysisRecord
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Router      /threads/{id}/analyses/{analysisId} [get]
func (h *Handlers) GetAnalysis(c *gin.Context) {
	threadID := c.Param("id")
	analysisID := c.Param("analysisId")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	rec, err := h.analysisSvc.Get(c.Request.Context(), userID(c), threadID, analysisID)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) || errors.Is(err, services.ErrAnalysisNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, rec)
}

// RetryAnalysis godoc
// @ID          retryAnalysis
// @Summary     Retry a failed analysis
// @Description Deletes the failed record, recreates it, and re-runs the moderator model. Only failed analyses are retryable.
// @Tags        Analyses
// @Produce     json
//
// @Param       X-User-ID   header  string  false "User ID (demo header)"  example(user123)
// @Param       id          path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       analysisId  path    string  true  "Analysis ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.AnalysisRecord
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Analysis not failed"
// @Router      /threads/{id}/analyses/{analysisId}/retry [post]
func (h *Handlers) RetryAnalysis(c *gin.Context) {
	threadID := c.Param("id")
	analysisID := c.Param("analysisId")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	// Retry runs synchronously; deltas are not streamed on this endpoint.
	discard := func(services.RoundEvent) {}

	rec, err := h.analysisSvc.Retry(c.Request.Context(), userID(c), threadID, analysisID, discard)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrThreadNotFound), errors.Is(err, services.ErrAnalysisNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		case errors.Is(err, services.ErrAnalysisNotRetryable):
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeRetryFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, rec)
}
