package mw

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(r *gin.Engine, path, user string, header http.Header) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Identity("X-User-ID"), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "   ", nil).Code)

	w := serve(r, "/me", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
}

func TestWorkerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.GET("/w", WorkerToken("s3cret"), ok)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/w", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/w", "", http.Header{WorkerTokenHeader: {"wrong"}}).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/w", "", http.Header{WorkerTokenHeader: {"s3cret"}}).Code)

	disabled := gin.New()
	disabled.GET("/w", WorkerToken(""), ok)
	assert.Equal(t, http.StatusNotFound, serve(disabled, "/w", "", http.Header{WorkerTokenHeader: {""}}).Code)
}

func TestRateLimiter_PerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Identity("X-User-ID"), RateLimiter(rate.Limit(0.001), 2), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, "/x", "user-1", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/x", "user-1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/x", "user-1", nil).Code)

	// Another user on the same address has its own budget.
	assert.Equal(t, http.StatusOK, serve(r, "/x", "user-2", nil).Code)
}

func TestCache_ScopedPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rc := NewResponseCache(cache.New(time.Minute, time.Minute), time.Minute)
	var hits atomic.Int32

	r := gin.New()
	r.GET("/stats", Identity("X-User-ID"), rc.Middleware(), func(c *gin.Context) {
		hits.Add(1)
		c.String(http.StatusOK, UserID(c))
	})

	first := serve(r, "/stats", "user-1", nil)
	assert.Equal(t, "user-1", first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get(CacheStatusHeader))

	second := serve(r, "/stats", "user-1", nil)
	assert.Equal(t, "user-1", second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get(CacheStatusHeader))
	assert.Equal(t, "text/plain; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, "user-2", serve(r, "/stats", "user-2", nil).Body.String())
	assert.Equal(t, int32(2), hits.Load())

	rc.Invalidate("user-1")
	serve(r, "/stats", "user-1", nil)
	serve(r, "/stats", "user-2", nil)
	assert.Equal(t, int32(3), hits.Load())
}
