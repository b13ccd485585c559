package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// CacheStatusHeader tells clients whether a response came from the cache.
const CacheStatusHeader = "X-Cache"

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// recordingWriter copies the response body while it is written.
type recordingWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache caches successful GET responses per caller.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache wraps store. Entries live for ttl.
func NewResponseCache(store *cache.Cache, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl}
}

func entryKey(userID, uri string) string {
	return userID + "|" + uri
}

// Middleware serves cached responses and records fresh 2xx ones. The key is
// the caller's user id plus the request URI, so users never share entries.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := entryKey(UserID(c), c.Request.RequestURI)
		if v, found := rc.store.Get(key); found {
			hit := v.(cachedResponse)
			c.Header(CacheStatusHeader, "HIT")
			c.Data(hit.status, hit.contentType, hit.body)
			c.Abort()
			return
		}

		c.Header(CacheStatusHeader, "MISS")
		rec := recordingWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			rc.store.Set(key, cachedResponse{
				status:      status,
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			}, rc.ttl)
		}
	}
}

// Invalidate drops every cached response of userID.
func (rc *ResponseCache) Invalidate(userID string) {
	prefix := entryKey(userID, "")
	for key := range rc.store.Items() {
		if strings.HasPrefix(key, prefix) {
			rc.store.Delete(key)
		}
	}
}
