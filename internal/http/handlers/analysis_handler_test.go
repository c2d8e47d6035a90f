package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/services"
)

func newAnalysisRouter(svc AnalysisService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(stubThreadSvc{}, stubRoundSvc{}, stubResumeSvc{}, svc, nil)
	r := gin.New()
	r.GET("/threads/:id/analyses/:analysisId", h.GetAnalysis)
	r.POST("/threads/:id/analyses/:analysisId/retry", h.RetryAnalysis)
	return r
}

func TestGetAnalysis_InvalidUUID(t *testing.T) {
	r := newAnalysisRouter(stubAnalysisSvc{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads/nope/analyses/a1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid uuid -> %d", w.Code)
	}
}

func TestGetAnalysis_Success_NotFound_Internal(t *testing.T) {
	threadID := uuid.NewString()

	// success
	r := newAnalysisRouter(stubAnalysisSvc{
		get: func(ctx context.Context, u, tid, aid string) (*domain.AnalysisRecord, error) {
			return &domain.AnalysisRecord{
				ID:       aid,
				ThreadID: tid,
				Status:       domain.StatusComplete,
				AnalysisData: &domain.AnalysisData{Summary: "broad agreement"},
			}, nil
		},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/analyses/a1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get -> %d body=%s", w.Code, w.Body.String())
	}
	var rec domain.AnalysisRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("json: %v", err)
	}
	if rec.ID != "a1" || rec.AnalysisData == nil || rec.AnalysisData.Summary != "broad agreement" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// not found: both error flavors map to 404
	for _, e := range []error{services.ErrThreadNotFound, services.ErrAnalysisNotFound} {
		r = newAnalysisRouter(stubAnalysisSvc{
			get: func(context.Context, string, string, string) (*domain.AnalysisRecord, error) { return nil, e },
		})
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/analyses/a1", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%v -> %d", e, w.Code)
		}
	}

	// internal
	r = newAnalysisRouter(stubAnalysisSvc{
		get: func(context.Context, string, string, string) (*domain.AnalysisRecord, error) {
			return nil, gorm.ErrInvalidDB
		},
	})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/analyses/a1", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("internal -> %d", w.Code)
	}
}

func TestRetryAnalysis_Statuses(t *testing.T) {
	threadID := uuid.NewString()

	// invalid uuid
	r := newAnalysisRouter(stubAnalysisSvc{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/threads/nope/analyses/a1/retry", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid uuid -> %d", w.Code)
	}

	// success returns the fresh record
	r = newAnalysisRouter(stubAnalysisSvc{
		retry: func(ctx context.Context, u, tid, aid string, emit services.EmitFunc) (*domain.AnalysisRecord, error) {
			// the handler must pass a non-nil sink even though it discards deltas
			emit(services.RoundEvent{Type: services.EventAnalysisDelta, Delta: "x"})
			return &domain.AnalysisRecord{ID: "a2", ThreadID: tid, Status: domain.StatusComplete}, nil
		},
	})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/threads/"+threadID+"/analyses/a1/retry", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("retry -> %d body=%s", w.Code, w.Body.String())
	}
	var rec domain.AnalysisRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("json: %v", err)
	}
	if rec.ID != "a2" || rec.Status != domain.StatusComplete {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// error mappings
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrThreadNotFound, http.StatusNotFound},
		{services.ErrAnalysisNotFound, http.StatusNotFound},
		{services.ErrAnalysisNotRetryable, http.StatusConflict},
		{gorm.ErrInvalidDB, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r = newAnalysisRouter(stubAnalysisSvc{
			retry: func(context.Context, string, string, string, services.EmitFunc) (*domain.AnalysisRecord, error) {
				return nil, tc.err
			},
		})
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/threads/"+threadID+"/analyses/a1/retry", nil))
		if w.Code != tc.want {
			t.Fatalf("%v -> %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}
