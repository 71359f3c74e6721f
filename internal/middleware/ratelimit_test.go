package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0})
	})
	return r
}

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(2, 1)
	router := newTestRouter(rl)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "1.2.3.4:1111"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterRejectsOverCapacity(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	router := newTestRouter(rl)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "5.6.7.8:2222"

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req)
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimiterTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	router := newTestRouter(rl)

	reqA := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqA.RemoteAddr = "9.9.9.9:3333"
	wA := httptest.NewRecorder()
	router.ServeHTTP(wA, reqA)
	assert.Equal(t, http.StatusOK, wA.Code)

	reqB := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqB.RemoteAddr = "8.8.8.8:4444"
	wB := httptest.NewRecorder()
	router.ServeHTTP(wB, reqB)
	assert.Equal(t, http.StatusOK, wB.Code)
}
