package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestOkEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ok(c, gin.H{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body envelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != http.StatusOK || body.Message != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestFailEnvelopeClassifiedError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	logger := zap.NewNop()

	fail(c, logger, "test op", apperr.AuthZ("private resource"))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var body envelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "private resource" {
		t.Fatalf("message = %q, want the classified message", body.Message)
	}
}

// TestFailEnvelopeInfrastructureError checks spec §7's "infrastructure
// errors... surfaced as generic 5xx — never as raw stack traces": an
// unclassified error must not leak its own text to the client.
func TestFailEnvelopeInfrastructureError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	logger := zap.NewNop()

	fail(c, logger, "test op", errors.New("pq: connection reset by peer"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body envelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "internal error" {
		t.Fatalf("message = %q, leaked internal error text", body.Message)
	}
}

func TestRequestIDMiddlewarePropagatesOnResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, r := gin.CreateTestContext(w)
	r.Use(requestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		if requestID(c) == "" {
			t.Error("requestID should be set inside the handler")
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	c.Request = req
	r.ServeHTTP(w, req)

	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("response should carry the request id header")
	}
}

func TestRequestIDMiddlewareHonorsIncomingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	_, r := gin.CreateTestContext(w)
	r.Use(requestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "fixed-id" {
		t.Fatalf("request id = %q, want the incoming header preserved", got)
	}
}
