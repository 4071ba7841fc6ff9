// Package mana implements the per-actor regenerating mana pool that casts
// draw from.
package mana

import (
	"sync"
	"time"
)

const (
	DefaultMax            = 100
	DefaultRegenPerSecond = 3
)

// Pool is a mana reservoir that refills linearly over time up to Max.
// Regeneration is computed lazily from the timestamps passed in, so the pool
// needs no ticker. All methods are safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	max   float64
	regen float64 // per second
	level float64
	last  time.Time
}

// New returns a full pool. Non-positive capacity falls back to
// [DefaultMax]; negative regen is treated as zero.
func New(capacity, regenPerSecond float64) *Pool {
	if capacity <= 0 {
		capacity = DefaultMax
	}
	return &Pool{max: capacity, regen: max(regenPerSecond, 0), level: capacity}
}

// advance applies regeneration up to now. Timestamps going backwards are
// ignored.
func (p *Pool) advance(now time.Time) {
	if p.last.IsZero() {
		p.last = now
		return
	}
	if dt := now.Sub(p.last); dt > 0 {
		p.level = min(p.max, p.level+p.regen*dt.Seconds())
		p.last = now
	}
}

// Level returns the mana available at now.
func (p *Pool) Level(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(now)
	return p.level
}

// Max returns the pool capacity.
func (p *Pool) Max() float64 { return p.max }

// TrySpend deducts cost if enough mana is available at now and reports
// whether it did.
func (p *Pool) TrySpend(cost int, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(now)
	c := float64(cost)
	if c > p.level {
		return false
	}
	p.level -= c
	return true
}

// Configure changes capacity and regeneration rate, clamping the current
// level into the new capacity.
func (p *Pool) Configure(capacity, regenPerSecond float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(now)
	if capacity > 0 {
		p.max = capacity
	}
	p.regen = max(regenPerSecond, 0)
	p.level = min(p.level, p.max)
}

// Reset refills the pool and forgets the regeneration clock.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.level = p.max
	p.last = time.Time{}
	p.mu.Unlock()
}
