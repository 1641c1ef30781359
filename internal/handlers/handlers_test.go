package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for name, tc := range map[string]struct {
		db   Pinger
		want int
	}{
		"no db":   {nil, http.StatusOK},
		"db up":   {fakePinger{}, http.StatusOK},
		"db down": {fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.GET("/readyz", NewHealthHandler(tc.db).Readiness)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestBindJSONRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if !bindJSON(c, &req) {
			return
		}
		c.Status(http.StatusOK)
	})

	for _, body := range []string{`{`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"code":"VALIDATION"`)
	}
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 1, maxAge(time.Now().Add(-time.Minute)))
	assert.InDelta(t, 900, maxAge(time.Now().Add(15*time.Minute)), 2)
}
