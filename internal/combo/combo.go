// Package combo tracks per-actor combo chains and elemental reactions and
// turns a cast into final damage.
//
// Every actor owns one [Resolver]. Casts must be fed in acceptance order;
// the resolver serialises concurrent calls but cannot restore order.
package combo

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/glyphcast/pkg/spell"
)

const (
	DefaultDecay       = 3000 * time.Millisecond
	DefaultMinAccuracy = 70.0

	MaxChain  = 10
	StreakLen = 5
)

// Params tunes chain continuation.
type Params struct {
	// Decay is the longest gap between casts that keeps a chain alive.
	Decay time.Duration
	// MinAccuracy (0..100) is the accuracy a cast needs to extend a chain.
	MinAccuracy float64
}

// DefaultParams returns the default chain rules.
func DefaultParams() Params {
	return Params{Decay: DefaultDecay, MinAccuracy: DefaultMinAccuracy}
}

// Cast is the input to [Resolver.Resolve].
type Cast struct {
	SpellID   string
	Element   spell.Element
	BasePower float64
	Power     float64 // 0.4..2.0
	Accuracy  float64 // 0..100
	At        time.Time
}

// Outcome is the combo-adjusted result of one cast.
type Outcome struct {
	Chain       int
	Multiplier  float64
	Reaction    Reaction
	HasReaction bool
	Damage      int
	// ComboDamage and ReactionDamage are the shares of Damage attributable
	// to the combo and reaction bonuses, for display.
	ComboDamage    int
	ReactionDamage int
	Streak         []string
}

// State is a copy of one actor's combo state.
type State struct {
	Chain       int
	Multiplier  float64
	LastElement spell.Element
	LastCast    time.Time
	Streak      []string
}

// Resolver holds one actor's combo state.
type Resolver struct {
	mu     sync.Mutex
	params Params
	state  State
}

// NewResolver returns a resolver with an empty chain.
func NewResolver(p Params) *Resolver {
	return &Resolver{params: p, state: State{Multiplier: 1}}
}

// SetParams replaces the chain rules. State is kept.
func (r *Resolver) SetParams(p Params) {
	r.mu.Lock()
	r.params = p
	r.mu.Unlock()
}

// Resolve applies c to the chain and computes damage.
func (r *Resolver) Resolve(c Cast) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.state
	reaction, hasReaction := LookupReaction(s.LastElement, c.Element)

	fresh := s.LastCast.IsZero() || c.At.Sub(s.LastCast) > r.params.Decay || c.Accuracy < r.params.MinAccuracy
	if fresh {
		s.Chain = 1
		s.Streak = []string{c.SpellID}
	} else {
		s.Chain = min(s.Chain+1, MaxChain)
		s.Streak = append(s.Streak, c.SpellID)
		if len(s.Streak) > StreakLen {
			s.Streak = slices.Clone(s.Streak[len(s.Streak)-StreakLen:])
		}
	}
	s.Multiplier = ChainMultiplier(s.Chain)
	s.LastCast = c.At
	s.LastElement = c.Element

	reactionMult := 1.0
	if hasReaction {
		reactionMult = reaction.Multiplier
	}
	scaled := c.BasePower * c.Power
	out := Outcome{
		Chain:       s.Chain,
		Multiplier:  s.Multiplier,
		Reaction:    reaction,
		HasReaction: hasReaction,
		Damage:      round(scaled * (c.Accuracy / 100) * s.Multiplier * reactionMult),
		ComboDamage: round(scaled * (s.Multiplier - 1)),
		Streak:      slices.Clone(s.Streak),
	}
	if hasReaction {
		out.ReactionDamage = round(scaled * (reactionMult - 1))
	}
	return out
}

// Current returns the live chain count at now, which is zero once the decay
// window has passed without a cast.
func (r *Resolver) Current(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.LastCast.IsZero() || now.Sub(r.state.LastCast) > r.params.Decay {
		return 0
	}
	return r.state.Chain
}

// Snapshot returns a copy of the state.
func (r *Resolver) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Streak = slices.Clone(r.state.Streak)
	return s
}

// Reset clears the chain.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.state = State{Multiplier: 1}
	r.mu.Unlock()
}

// ChainMultiplier returns 1 + 0.1×(n−1) for n in 1..MaxChain.
func ChainMultiplier(n int) float64 {
	n = max(1, min(MaxChain, n))
	return 1 + 0.1*float64(n-1)
}

// round rounds half toward positive infinity so healing (negative) and damage
// values round the same way.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}
