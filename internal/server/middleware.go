package server

import (
	"container/list"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/livetemplate/mdview/internal/logging"
)

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// Documents may embed raw HTML with remote images and inline styles.
			// connect-src 'self' covers the same-origin session socket.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self'; "+
					"style-src 'self' 'unsafe-inline'; "+
					"img-src 'self' data: https:; "+
					"font-src 'self' data:; "+
					"connect-src 'self'; "+
					"frame-ancestors 'none'")

			next.ServeHTTP(w, r)
		})
	}
}

const (
	// limiterIdle is how long an IP may stay silent before its bucket is dropped.
	limiterIdle = 10 * time.Minute
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
)

type ipLimiter struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet is a bounded LRU of per-IP token buckets.
type limiterSet struct {
	rps    rate.Limit
	burst  int
	maxIPs int

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	evicted int
	lastLog time.Time
	log     zerolog.Logger
}

func newLimiterSet(rps float64, burst, maxIPs int) *limiterSet {
	if maxIPs <= 0 {
		maxIPs = 10000
	}
	return &limiterSet{
		rps:    rate.Limit(rps),
		burst:  burst,
		maxIPs: maxIPs,
		items:  make(map[string]*list.Element),
		order:  list.New(),
		log:    logging.For("ratelimit"),
	}
}

// allow reports whether a request from ip may proceed.
func (s *limiterSet) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if elem, ok := s.items[ip]; ok {
		s.order.MoveToFront(elem)
		lim := elem.Value.(*ipLimiter)
		lim.lastSeen = now
		return lim.limiter.Allow()
	}

	if s.order.Len() >= s.maxIPs {
		s.evictOldest(now)
	}
	lim := &ipLimiter{ip: ip, limiter: rate.NewLimiter(s.rps, s.burst), lastSeen: now}
	s.items[ip] = s.order.PushFront(lim)
	return lim.limiter.Allow()
}

func (s *limiterSet) evictOldest(now time.Time) {
	back := s.order.Back()
	if back == nil {
		return
	}
	s.order.Remove(back)
	delete(s.items, back.Value.(*ipLimiter).ip)

	s.evicted++
	if now.Sub(s.lastLog) >= evictionLogInterval {
		s.log.Warn().Int("evicted", s.evicted).Int("capacity", s.maxIPs).Msg("rate limiter at capacity")
		s.lastLog = now
		s.evicted = 0
	}
}

// sweep drops buckets idle for longer than limiterIdle. LRU order tracks
// access recency, so every entry is checked.
func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e := s.order.Back(); e != nil; {
		prev := e.Prev()
		if lim := e.Value.(*ipLimiter); now.Sub(lim.lastSeen) > limiterIdle {
			s.order.Remove(e)
			delete(s.items, lim.ip)
		}
		e = prev
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// RateLimitMiddleware limits requests per client IP with a token bucket.
// The returned channel is closed once the cleanup goroutine, which runs
// until ctx is cancelled, has exited.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int) (func(http.Handler) http.Handler, <-chan struct{}) {
	set := newLimiterSet(rps, burst, maxIPs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				set.sweep(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(getClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	return middleware, done
}

// getClientIP extracts the client IP from the request.
// Forwarding headers are only trusted from loopback or private peers.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	if peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate()) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
