package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at capacity")
}

func TestGinMiddlewareBy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())
	r.Use(NewSimpleTokenBucket(1, 1).GinMiddlewareBy(func(c *gin.Context) string {
		return c.GetHeader("X-Reporter")
	}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(reporter string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Reporter", reporter)
		r.ServeHTTP(w, req)
		return w
	}

	first := do("u1")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "nosniff", first.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, http.StatusTooManyRequests, do("u1").Code)
	assert.Equal(t, http.StatusNoContent, do("u2").Code)
}
