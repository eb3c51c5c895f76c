package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	logger   *zap.Logger
}

func NewRateLimiter(perMinute int, logger *zap.Logger) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		logger:   logger,
	}
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		// Idle visitors are dropped whenever a new one arrives.
		for key, old := range rl.visitors {
			if now.Sub(old.lastSeen) > rl.idleTTL {
				delete(rl.visitors, key)
			}
		}
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.limiterFor(ip, time.Now()).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path))
			utils.ResponseTooManyRequests(w, "Rate limit exceeded. Try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
