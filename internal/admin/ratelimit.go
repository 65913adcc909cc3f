package admin

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleClient is how long a client's limiter is kept after its last request.
const idleClient = 3 * time.Minute

// ClientLimiter throttles admin requests per client IP.
type ClientLimiter struct {
	rps     rate.Limit
	burst   int
	clients *cache.Cache // ip -> *rate.Limiter, evicted when idle
}

// NewClientLimiter allows rps requests per second per client with the
// given burst.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	return &ClientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: cache.New(idleClient, time.Minute),
	}
}

// Allow reports whether ip may make a request now.
func (l *ClientLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

func (l *ClientLimiter) limiter(ip string) *rate.Limiter {
	if v, ok := l.clients.Get(ip); ok {
		lim := v.(*rate.Limiter)
		l.clients.SetDefault(ip, lim) // refresh idle expiry
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	// Add fails if another request created it first; use theirs.
	if err := l.clients.Add(ip, lim, cache.DefaultExpiration); err != nil {
		if v, ok := l.clients.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware rejects requests over the limit with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			retry := 1
			if l.rps > 0 {
				retry = max(1, int(1/float64(l.rps)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
