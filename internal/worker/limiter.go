package worker

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements per-host rate limiting for provider calls and image
// downloads. Keys are hosts such as "api.openai.com"; full URLs are reduced
// to their host.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a new rate limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait waits for rate limit clearance for the given endpoint
func (l *Limiter) Wait(ctx context.Context, key string) error {
	host, err := endpointHost(key)
	if err != nil {
		return err
	}

	return l.getLimiter(host).Wait(ctx)
}

// Allow checks if a request is allowed without waiting
func (l *Limiter) Allow(key string) bool {
	host, err := endpointHost(key)
	if err != nil {
		return false
	}

	return l.getLimiter(host).Allow()
}

// getLimiter returns the rate limiter for an endpoint
func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[host] = limiter

	return limiter
}

// SetEndpointRate sets a custom rate for one endpoint. An existing limiter is
// adjusted in place so reservations already made are kept.
func (l *Limiter) SetEndpointRate(key string, requestsPerSecond float64, burst int) {
	host, err := endpointHost(key)
	if err != nil {
		return
	}
	if burst <= 0 {
		burst = l.defaultBurst
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.limiters[host]; ok {
		if existing.Limit() != limit {
			existing.SetLimit(limit)
		}
		if existing.Burst() != burst {
			existing.SetBurst(burst)
		}
		return
	}
	l.limiters[host] = rate.NewLimiter(limit, burst)
}

// SetCrawlDelay allows one request per delay to the host of key, as
// requested by a robots.txt Crawl-delay. A delay that is not positive is ignored.
func (l *Limiter) SetCrawlDelay(key string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	l.SetEndpointRate(key, 1/delay.Seconds(), 1)
}

// Rate returns the current limit of the endpoint
func (l *Limiter) Rate(key string) rate.Limit {
	host, err := endpointHost(key)
	if err != nil {
		return 0
	}
	return l.getLimiter(host).Limit()
}

// endpointHost returns the host of a URL key, or the key itself when it is already a host
func endpointHost(key string) (string, error) {
	if !strings.Contains(key, "://") {
		return strings.ToLower(strings.TrimSpace(key)), nil
	}
	parsed, err := url.Parse(key)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Host), nil
}
