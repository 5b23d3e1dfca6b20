package llm

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterPool manages per-endpoint rate limiters so concurrent sessions
// against the same provider share one budget.
type LimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
}

// NewLimiterPool creates an empty pool
func NewLimiterPool() *LimiterPool {
	return &LimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// getOrCreate returns the limiter for endpointID, creating it on first use.
// If a limiter already exists with a different rate the existing one wins.
func (p *LimiterPool) getOrCreate(endpointID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[endpointID]; ok {
		if existing := p.rates[endpointID]; existing != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, keeping existing",
				"endpoint_id", endpointID,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(2, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[endpointID] = limiter
	p.rates[endpointID] = requestsPerMinute
	return limiter
}

// Wait blocks until the limiter for endpointID allows the next request
func (p *LimiterPool) Wait(ctx context.Context, endpointID string, requestsPerMinute int) error {
	return p.getOrCreate(endpointID, requestsPerMinute).Wait(ctx)
}
