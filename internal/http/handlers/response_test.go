package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newEnvelopeRouter(requestID string, logBuf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", requestID)
		if logBuf != nil {
			l := zerolog.New(logBuf)
			c.Set("logger", &l)
		}
		c.Next()
	})
	return r
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return er
}

func TestFail_ServerErrorLogsAndWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	r := newEnvelopeRouter("rid-500", &buf)
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	er := decodeErrorResponse(t, w)
	if er.RequestID != "rid-500" || er.Code != "internal_error" || er.Message != "kaboom" {
		t.Fatalf("envelope = %+v", er)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error-level log, got %q", buf.String())
	}
}

func TestFail_ClientErrorSkipsLog(t *testing.T) {
	var buf bytes.Buffer
	r := newEnvelopeRouter("rid-404", &buf)
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "not_found", "thread not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	er := decodeErrorResponse(t, w)
	if er.RequestID != "rid-404" || er.Code != "not_found" || er.Message != "thread not found" {
		t.Fatalf("envelope = %+v", er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log, got %q", buf.String())
	}
}

func TestSuccessHelpers(t *testing.T) {
	r := newEnvelopeRouter("rid-ok", nil)
	r.GET("/created", func(c *gin.Context) {
		ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1})
	})
	r.DELETE("/gone", func(c *gin.Context) {
		noContent(c)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/created", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true || int(body["n"].(float64)) != 1 {
		t.Fatalf("body = %#v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("204 must have empty body, got %q", w.Body.String())
	}
}
