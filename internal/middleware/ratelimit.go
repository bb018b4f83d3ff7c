package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// ClientRateLimiter implements per-client rate limiting
type ClientRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
	maxClients      int
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) *ClientRateLimiter {
	if !cfg.RateLimit.Enabled {
		return &ClientRateLimiter{enabled: false}
	}

	rl := &ClientRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RateLimit.RequestsPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
		maxClients:      10000,
		stop:            make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a client is allowed to make a request
func (r *ClientRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()
	if !allowed {
		r.logger.WithField("client", key).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset resets the rate limiter for a client
func (r *ClientRateLimiter) Reset(key string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

// Stop ends the cleanup goroutine
func (r *ClientRateLimiter) Stop() {
	if !r.enabled {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// getLimiter gets or creates a rate limiter for a client
func (r *ClientRateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[key] = limiter

	return limiter
}

// cleanup drops the limiter table once it grows past maxClients
func (r *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.limiters) > r.maxClients {
				r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
				r.limiters = make(map[string]*rate.Limiter)
			}
			r.mu.Unlock()
		}
	}
}

// Middleware rejects clients over their budget with 429
func (r *ClientRateLimiter) Middleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Allow(ClientKey(req)) {
				if metrics != nil {
					metrics.RecordRateLimitExceeded(req.URL.Path)
				}
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// ClientKey identifies a client by the X-Client-Id header, or by remote IP
func ClientKey(req *http.Request) string {
	if id := req.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// SecurityMiddleware provides security checks
type SecurityMiddleware struct {
	maxLength int
	logger    *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(cfg *config.Config, logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxLength: cfg.Chat.MaxMessageLength,
		logger:    logger,
	}
}

// ValidateInput performs input validation
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if s.maxLength > 0 && len(text) > s.maxLength {
		return fmt.Errorf("message too long: %d bytes", len(text))
	}
	return nil
}
