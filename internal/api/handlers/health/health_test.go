package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"recipe-matcher/internal/infrastructure/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/health", h.HealthCheck)
	r.GET("/ready", h.ReadinessCheck)
	r.GET("/live", h.LivenessCheck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthCheck(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Version = "1.2.3"
	cfg.Database.Driver = "memory"
	h := NewHandler(cfg, stubPinger{})

	w := serve(h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
	assert.Contains(t, w.Body.String(), `"driver":"memory"`)

	assert.Equal(t, http.StatusOK, serve(h, "/live").Code)
	assert.Equal(t, http.StatusOK, serve(h, "/ready").Code)
}

func TestReadinessFailsWhenStoreIsDown(t *testing.T) {
	h := NewHandler(&config.Config{}, stubPinger{err: errors.New("connection refused")})
	w := serve(h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
