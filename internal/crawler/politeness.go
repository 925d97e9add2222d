package crawler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// domainLimiter enforces a per-domain request rate so a crawl session stays
// polite regardless of worker concurrency.
type domainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newDomainLimiter(rps float64) *domainLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &domainLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    1,
	}
}

// Wait blocks until a token is available for the URL's domain or the context
// ends.
func (l *domainLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := hostOf(rawURL)
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
