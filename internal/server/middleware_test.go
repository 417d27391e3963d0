package server

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func reqFromIP(ip string) *http.Request {
	r := httptest.NewRequest("GET", "/?path=README.md", nil)
	r.RemoteAddr = ip + ":12345"
	return r
}

// rateLimitWrap builds a limited handler whose cleanup goroutine stops when
// the test finishes.
func rateLimitWrap(t *testing.T, rps float64, burst, maxIPs int, next http.Handler) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mw, _ := RateLimitMiddleware(ctx, rps, burst, maxIPs)
	return mw(next)
}

func status(h http.Handler, r *http.Request) int {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestRateLimitBurst(t *testing.T) {
	wrapped := rateLimitWrap(t, 1, 2, 10, okHandler())

	assert.Equal(t, http.StatusOK, status(wrapped, reqFromIP("1.1.1.1")))
	assert.Equal(t, http.StatusOK, status(wrapped, reqFromIP("1.1.1.1")))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, reqFromIP("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	// Buckets are per IP.
	assert.Equal(t, http.StatusOK, status(wrapped, reqFromIP("2.2.2.2")))
}

// An evicted IP comes back with a fresh bucket.
func TestRateLimitEvictedIPGetsFreshLimiter(t *testing.T) {
	wrapped := rateLimitWrap(t, 100, 1, 2, okHandler())

	require.Equal(t, http.StatusOK, status(wrapped, reqFromIP("1.1.1.1")))
	require.Equal(t, http.StatusTooManyRequests, status(wrapped, reqFromIP("1.1.1.1")))

	for _, ip := range []string{"2.2.2.2", "3.3.3.3"} {
		require.Equal(t, http.StatusOK, status(wrapped, reqFromIP(ip)), ip)
	}

	assert.Equal(t, http.StatusOK, status(wrapped, reqFromIP("1.1.1.1")))
}

func TestLimiterSetEvictsLeastRecentlyUsed(t *testing.T) {
	set := newLimiterSet(100, 100, 3)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		require.True(t, set.allow(ip))
	}

	// Touch .1 so .2 becomes the oldest.
	require.True(t, set.allow("10.0.0.1"))
	require.True(t, set.allow("10.0.0.4"))

	assert.Equal(t, 3, set.len())
	assert.Contains(t, set.items, "10.0.0.1")
	assert.NotContains(t, set.items, "10.0.0.2")
}

func TestLimiterSetSweep(t *testing.T) {
	set := newLimiterSet(100, 100, 10)
	set.allow("1.1.1.1")
	set.allow("2.2.2.2")

	set.items["1.1.1.1"].Value.(*ipLimiter).lastSeen = time.Now().Add(-2 * limiterIdle)
	set.sweep(time.Now())

	assert.Equal(t, 1, set.len())
	assert.Contains(t, set.items, "2.2.2.2")
}

func TestRateLimitConcurrentAccess(t *testing.T) {
	wrapped := rateLimitWrap(t, 1000, 1000, 50, okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.%d.%d", id/256, id%256)
			for j := 0; j < 10; j++ {
				if code := status(wrapped, reqFromIP(ip)); code == http.StatusServiceUnavailable {
					t.Errorf("IP %s: got 503 under concurrent load", ip)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimitCleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, done := RateLimitMiddleware(ctx, 100, 100, 100)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup goroutine did not exit within 2s")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"plain", "203.0.113.7:5000", nil, "203.0.113.7"},
		{"forwarded from loopback", "127.0.0.1:5000", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{"real ip from private", "10.1.2.3:5000", map[string]string{"X-Real-IP": " 198.51.100.2 "}, "198.51.100.2"},
		{"forwarded from public ignored", "203.0.113.7:5000", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.7"},
		{"no port", "203.0.113.9", nil, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "connect-src 'self'")
}

func TestCompressionMiddleware(t *testing.T) {
	body := strings.Repeat("markdown ", 200)
	h := compressionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = io.WriteString(w, body)
	}))

	t.Run("gzip", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Accept-Encoding", "gzip, deflate")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		assert.Empty(t, w.Header().Get("Content-Length"))

		zr, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, body, w.Body.String())
	})

	t.Run("already compressed types pass through", func(t *testing.T) {
		png := compressionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = io.WriteString(w, body)
		}))
		r := httptest.NewRequest("GET", "/logo.png", nil)
		r.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		png.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
		assert.Equal(t, body, w.Body.String())
	})

	t.Run("partial content passes through", func(t *testing.T) {
		ranged := compressionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Range", "bytes 0-8/1800")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, body[:9])
		}))
		r := httptest.NewRequest("GET", "/notes.txt", nil)
		r.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		ranged.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "markdown ", w.Body.String())
	})

	t.Run("websocket upgrade", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Accept-Encoding", "gzip")
		r.Header.Set("Upgrade", "websocket")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
	})
}
