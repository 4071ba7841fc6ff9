// Package speech owns the lifecycle of the external speech engine.
//
// [Supervisor] keeps one engine stream alive for a casting session: it feeds
// converted audio in, forwards final transcripts out stamped with the engine
// generation, and restarts the engine with exponential backoff when it dies.
// [Failover] spreads stream starts across several engines, each guarded by a
// [Breaker] so a dead backend is skipped until it has had time to recover.
//
// Restart policy lives here and nowhere else. The caster only sees a
// transcript channel and a generation number.
package speech

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrBreakerOpen = errors.New("speech: breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cool-down ends.
	BreakerOpen

	// BreakerHalfOpen lets a few probe starts through. One failure re-opens.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted below.
type BreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures is how many consecutive failed starts open the breaker.
	// Default 5.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing. Default 30s.
	Cooldown time.Duration

	// Probes is how many successful half-open starts close the breaker.
	// Default 3.
	Probes int

	// Now overrides the clock. Default time.Now.
	Now func() time.Time
}

// Breaker is a closed/open/half-open circuit breaker around engine starts.
// It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	now         func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	inFlight  int
	succeeded int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		now:         cfg.Now,
	}
}

// Do runs fn unless the breaker is open. In half-open state at most Probes
// calls are in flight or pending a verdict at once.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.inFlight = 0
		b.succeeded = 0
		slog.Info("speech: breaker probing", "name", b.name)
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		if b.inFlight+b.succeeded >= b.probes {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.inFlight++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probing {
		b.inFlight--
	}
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probing bool) {
	b.failures++
	if probing || b.failures >= b.maxFailures {
		if b.state != BreakerOpen {
			slog.Warn("speech: breaker opened", "name", b.name, "failures", b.failures)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if b.state != BreakerHalfOpen {
		return
	}
	b.succeeded++
	if b.succeeded >= b.probes {
		b.state = BreakerClosed
		b.failures = 0
		b.succeeded = 0
		slog.Info("speech: breaker closed", "name", b.name)
	}
}

// State reports the current state. An open breaker whose cool-down has ended
// reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets all failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.inFlight = 0
	b.succeeded = 0
}
