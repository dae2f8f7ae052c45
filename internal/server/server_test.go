package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/server"
)

func build(t *testing.T, b *server.Builder) *gin.Engine {
	t.Helper()
	b.WithLogger(logger.NewNop())
	return b.Build().Router()
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_GeneratesAndPreserves(t *testing.T) {
	var seen string
	r := build(t, server.NewBuilder("reader", config.ServerConfig{}).WithRoutes(func(e *gin.Engine) {
		e.GET("/ping", func(c *gin.Context) {
			seen = c.GetString("request_id")
			c.String(http.StatusOK, "pong")
		})
	}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get("X-Request-ID")
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, seen)

	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	req.Header.Set("X-Request-ID", "upstream-123")
	w = serve(r, req)
	assert.Equal(t, "upstream-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "upstream-123", seen)
}

func TestRecovery(t *testing.T) {
	r := build(t, server.NewBuilder("reader", config.ServerConfig{}).WithRoutes(func(e *gin.Engine) {
		e.GET("/boom", func(*gin.Context) { panic("boom") })
	}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestCORS(t *testing.T) {
	cfg := config.ServerConfig{CORSOrigins: []string{"http://localhost:3000"}}
	r := build(t, server.NewBuilder("reader", cfg).WithRoutes(func(e *gin.Engine) {
		e.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	}))

	req := httptest.NewRequest(http.MethodOptions, "/ping", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)

	req = httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		required   error
		optional   error
		wantCode   int
		wantStatus server.Status
	}{
		{name: "all healthy", wantCode: http.StatusOK, wantStatus: server.StatusHealthy},
		{name: "optional down", optional: errors.New("redis down"), wantCode: http.StatusOK, wantStatus: server.StatusDegraded},
		{name: "required down", required: errors.New("db down"), wantCode: http.StatusServiceUnavailable, wantStatus: server.StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := build(t, server.NewBuilder("reader", config.ServerConfig{}).
				WithVersion("1.2.3").
				WithCheck("database", true, func(context.Context) error { return tt.required }).
				WithCheck("redis", false, func(context.Context) error { return tt.optional }))

			w := serve(r, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
			require.Equal(t, tt.wantCode, w.Code)

			var resp server.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "reader", resp.Service)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Len(t, resp.Checks, 2)
		})
	}

	r := build(t, server.NewBuilder("reader", config.ServerConfig{}))
	w := serve(r, httptest.NewRequest(http.MethodHead, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
}
