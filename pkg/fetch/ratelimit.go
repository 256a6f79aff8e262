package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterPool hands out one token-bucket limiter per domain so politeness
// to one host never stalls requests to another.
type LimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   float64
}

// NewLimiterPool creates a pool where each domain is limited to perSec
// requests per second with a burst of 1.
func NewLimiterPool(perSec float64) *LimiterPool {
	return &LimiterPool{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSec,
	}
}

func (p *LimiterPool) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.perSec), 1)
		p.limiters[host] = l
	}
	return l
}

// Wait blocks until the domain's limiter releases a token or the context
// is cancelled.
func (p *LimiterPool) Wait(ctx context.Context, host string) error {
	return p.limiter(host).Wait(ctx)
}
