package web

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter implements simple IP-based rate limiting
type RateLimiter struct {
	attempts    map[string]int       // IP -> attempt count
	lastAttempt map[string]time.Time // IP -> last attempt time
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]int),
		lastAttempt: make(map[string]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	lastTime, exists := rl.lastAttempt[ip]

	// Reset counter if window has passed
	if exists && now.Sub(lastTime) > rl.window {
		rl.attempts[ip] = 0
	}

	if rl.attempts[ip] >= rl.maxAttempts {
		return false
	}

	rl.attempts[ip]++
	rl.lastAttempt[ip] = now
	return true
}

// GetRemaining returns remaining attempts and time until reset
func (rl *RateLimiter) GetRemaining(ip string) (int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lastTime, exists := rl.lastAttempt[ip]
	if !exists {
		return rl.maxAttempts, 0
	}

	elapsed := rl.now().Sub(lastTime)
	if elapsed > rl.window {
		return rl.maxAttempts, 0
	}

	remaining := max(rl.maxAttempts-rl.attempts[ip], 0)
	return remaining, rl.window - elapsed
}

// RateLimitMiddleware rate limits the wrapped handler per client IP.
func RateLimitMiddleware(limiter *RateLimiter, logger interface{ Warn(msg string, args ...any) }) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if !limiter.Allow(ip) {
				remaining, resetIn := limiter.GetRemaining(ip)
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path, "remaining", remaining, "reset_in", resetIn)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", formatDurationSeconds(resetIn))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":          "rate limit exceeded",
					"retry_after":    formatDurationSeconds(resetIn),
					"retry_after_ms": int(resetIn.Milliseconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP returns the peer address. Forwarding headers are ignored since
// the server only accepts direct local connections.
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// formatDurationSeconds formats a duration as whole seconds for Retry-After,
// rounded up so a client never retries before the window resets.
func formatDurationSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}

// DefaultAllowedNets are the loopback ranges.
var DefaultAllowedNets = []string{"127.0.0.0/8", "::1/128"}

// IPAllowlistMiddleware restricts access by peer IP.
type IPAllowlistMiddleware struct {
	allowed []*net.IPNet
	logger  interface{ Info(msg string, args ...any) }
}

// NewIPAllowlistMiddleware creates the middleware from CIDRs or single IPs.
// Unparsable entries are skipped.
func NewIPAllowlistMiddleware(allowed []string, logger interface{ Info(msg string, args ...any) }) *IPAllowlistMiddleware {
	m := &IPAllowlistMiddleware{logger: logger}
	for _, entry := range allowed {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			m.allowed = append(m.allowed, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * len(ip.To16())
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			m.allowed = append(m.allowed, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return m
}

// Middleware returns the middleware handler
func (m *IPAllowlistMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := remoteIP(r)
		if !m.isAllowed(clientIP) {
			m.logger.Info("IP not in allowlist", "ip", clientIP, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *IPAllowlistMiddleware) isAllowed(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, ipNet := range m.allowed {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
