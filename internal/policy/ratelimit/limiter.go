// Package ratelimit spaces out search navigations per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

// Config holds rate limiter configuration. A non-positive RequestsPerMinute
// disables limiting.
type Config struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting ctx.
// It returns how long it waited.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}

// Fetcher waits on a Limiter before delegating each navigation.
type Fetcher struct {
	next    retrieval.Fetcher
	limiter *Limiter
	logger  *zap.Logger
}

// Wrap returns next guarded by limiter.
func Wrap(next retrieval.Fetcher, limiter *Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, limiter: limiter, logger: logger}
}

// Fetch implements retrieval.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	waited, err := f.limiter.Wait(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if waited > time.Millisecond {
		f.logger.Debug("request delayed by rate limit", zap.String("url", rawURL), zap.Duration("waited", waited))
	}
	return f.next.Fetch(ctx, rawURL) //nolint:wrapcheck // transparent wrapper
}
