// Package gate decides whether a matched spell becomes an actual cast.
//
// Each actor owns one [Gate]. An attempt passes four checks in order: echo
// suppression of a duplicate transcript, the actor's global cooldown, the
// spell's own cooldown, and finally an optional mana budget. The first failing
// check is reported as a [Reason]; rejections leave the gate untouched.
// Evaluations on one gate are serialised by a mutex.
package gate

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/glyphcast/internal/pronounce"
)

const (
	DefaultEchoWindow     = 250 * time.Millisecond
	DefaultGlobalCooldown = 1000 * time.Millisecond
)

// Reason is the outcome code of one evaluation.
type Reason int

const (
	Accepted Reason = iota
	Echo
	GlobalCooldown
	SpellCooldown
	InsufficientMana
)

// String returns the stable snake_case code used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Echo:
		return "echo"
	case GlobalCooldown:
		return "global_cooldown"
	case SpellCooldown:
		return "spell_cooldown"
	case InsufficientMana:
		return "insufficient_mana"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Params are the actor-wide timing windows.
type Params struct {
	EchoWindow     time.Duration
	GlobalCooldown time.Duration
}

// DefaultParams returns the default windows.
func DefaultParams() Params {
	return Params{EchoWindow: DefaultEchoWindow, GlobalCooldown: DefaultGlobalCooldown}
}

// Attempt describes one candidate cast.
type Attempt struct {
	SpellID string
	// Transcript is the raw text that produced the match. It is normalised
	// before comparison. Empty disables echo suppression for the attempt.
	Transcript string
	Cooldown   time.Duration
	ManaCost   int
}

// Spender is a resource budget consulted after all timing checks pass.
type Spender interface {
	TrySpend(cost int, now time.Time) bool
}

// Decision is the result of [Gate.Evaluate].
type Decision struct {
	Reason Reason
	// Wait is how long until the failing cooldown expires. Zero unless the
	// reason is a cooldown.
	Wait time.Duration
}

// Accepted reports whether the attempt became a cast.
func (d Decision) Accepted() bool { return d.Reason == Accepted }

// State is a copy of a gate's mutable state.
type State struct {
	LastCast         time.Time
	LastTranscript   string
	LastTranscriptAt time.Time
	SpellCasts       map[string]time.Time
}

// Gate holds one actor's anti-spam state.
type Gate struct {
	mu     sync.Mutex
	params Params
	state  State
}

// New returns a gate in its initial state.
func New(p Params) *Gate {
	return &Gate{params: p, state: State{SpellCasts: make(map[string]time.Time)}}
}

// SetParams replaces the timing windows. State is kept.
func (g *Gate) SetParams(p Params) {
	g.mu.Lock()
	g.params = p
	g.mu.Unlock()
}

// Evaluate runs the checks for a at time now. budget may be nil.
func (g *Gate) Evaluate(now time.Time, a Attempt, budget Spender) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm := pronounce.Normalize(a.Transcript)
	s := &g.state

	if norm != "" && norm == s.LastTranscript && !s.LastTranscriptAt.IsZero() &&
		now.Sub(s.LastTranscriptAt) < g.params.EchoWindow {
		return Decision{Reason: Echo}
	}
	if !s.LastCast.IsZero() {
		if el := now.Sub(s.LastCast); el < g.params.GlobalCooldown {
			return Decision{Reason: GlobalCooldown, Wait: g.params.GlobalCooldown - el}
		}
	}
	if last, ok := s.SpellCasts[a.SpellID]; ok {
		if el := now.Sub(last); el < a.Cooldown {
			return Decision{Reason: SpellCooldown, Wait: a.Cooldown - el}
		}
	}
	if budget != nil && !budget.TrySpend(a.ManaCost, now) {
		return Decision{Reason: InsufficientMana}
	}

	s.LastCast = now
	s.SpellCasts[a.SpellID] = now
	if norm != "" {
		s.LastTranscript = norm
		s.LastTranscriptAt = now
	}
	return Decision{Reason: Accepted}
}

// CooldownRemaining reports how long until spellID with the given cooldown
// would clear both the global and the spell cooldown.
func (g *Gate) CooldownRemaining(now time.Time, spellID string, cooldown time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	var wait time.Duration
	if !g.state.LastCast.IsZero() {
		wait = max(wait, g.params.GlobalCooldown-now.Sub(g.state.LastCast))
	}
	if last, ok := g.state.SpellCasts[spellID]; ok {
		wait = max(wait, cooldown-now.Sub(last))
	}
	return max(wait, 0)
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	s.SpellCasts = maps.Clone(g.state.SpellCasts)
	return s
}

// Reset returns the gate to its initial state.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.state = State{SpellCasts: make(map[string]time.Time)}
	g.mu.Unlock()
}
