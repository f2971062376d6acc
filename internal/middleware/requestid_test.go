package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/suplementia/search-backend/internal/platform/ctxutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func requestIDRouter(seen *string) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		*seen = ctxutil.RequestID(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})
	return router
}

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	var seen string
	router := requestIDRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "proxy-assigned-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seen != "proxy-assigned-id" {
		t.Fatalf("context request id: want=proxy-assigned-id got=%q", seen)
	}
	if got := w.Header().Get(RequestIDHeader); got != "proxy-assigned-id" {
		t.Fatalf("response header: want=proxy-assigned-id got=%q", got)
	}
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	router := requestIDRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seen == "" {
		t.Fatalf("context request id must be populated")
	}
	if got := w.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q must match context id %q", got, seen)
	}
}
