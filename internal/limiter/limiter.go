// Package limiter throttles chat writes per user.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter controls how often a key may act.
type Limiter interface {
	// Allow reports whether key may act now and, if not, how long to wait.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Pool keeps one token bucket per key. Buckets idle for longer than the idle
// window are dropped.
type Pool struct {
	mu        sync.Mutex
	m         map[string]*entry
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

var _ Limiter = (*Pool)(nil)

// NewPool allows rps sustained actions per key with bursts up to burst.
func NewPool(rps float64, burst int, idle time.Duration) *Pool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Pool{
		m:     make(map[string]*entry),
		limit: rate.Limit(rps),
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (p *Pool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) > p.idle {
		for k, e := range p.m {
			if now.Sub(e.seen) > p.idle {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}
	e, ok := p.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = e
	}
	e.seen = now
	return e.lim
}

// Allow consumes one token for key when available.
func (p *Pool) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	now := p.now()
	r := p.get(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

// Len returns the number of tracked keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
