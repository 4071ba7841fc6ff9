// Package types defines the data exchanged between the casting core and its
// collaborators: combat, rendering, the cast feed, and the journal.
//
// These types are plain serialisable values. Each internal package keeps its
// own working types; only the records that leave the core live here.
package types

import "time"

// ActorKind distinguishes who produced a cast.
type ActorKind string

const (
	ActorPlayer ActorKind = "player"
	ActorBot    ActorKind = "bot"
	ActorRemote ActorKind = "remote"
)

// Letter is one character of the target incantation and whether it was heard.
type Letter struct {
	Char    string `json:"char"`
	Correct bool   `json:"correct"`
}

// Reaction is the elemental reaction a cast triggered.
type Reaction struct {
	Name        string  `json:"name"`
	Effect      string  `json:"effect"`
	Description string  `json:"description"`
	Multiplier  float64 `json:"multiplier"`
}

// CastEvent is an accepted cast. It is immutable once emitted.
type CastEvent struct {
	// ID uniquely identifies the event (UUIDv4).
	ID string `json:"id"`

	// SessionID ties the event to the session that produced it.
	SessionID string `json:"session_id"`

	// TraceID is the trace the cast was evaluated under, if any.
	TraceID string `json:"trace_id,omitempty"`

	Actor     string    `json:"actor"`
	ActorKind ActorKind `json:"actor_kind"`

	SpellID  string `json:"spell_id"`
	Label    string `json:"label"`
	Element  string `json:"element"`
	Category string `json:"category,omitempty"`

	// Transcript is the raw text the cast was recognised from. Empty for
	// remote casts that carry no text.
	Transcript string `json:"transcript,omitempty"`

	Accuracy   float64 `json:"accuracy"`   // 0..100
	Phonetic   float64 `json:"phonetic"`   // 0..100
	Confidence float64 `json:"confidence"` // 0..1
	Power      float64 `json:"power"`      // 0.4..2.0
	ChargeTier int     `json:"charge_tier"`
	ManaCost   int     `json:"mana_cost"`

	Chain           int       `json:"chain"`
	ComboMultiplier float64   `json:"combo_multiplier"`
	Reaction        *Reaction `json:"reaction,omitempty"`

	Damage         int `json:"damage"`
	ComboDamage    int `json:"combo_damage"`
	ReactionDamage int `json:"reaction_damage"`

	Letters []Letter `json:"letters,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// RejectReason is the stable code of a failed cast attempt.
type RejectReason string

const (
	ReasonNoTranscript     RejectReason = "no_transcript"
	ReasonNoMatch          RejectReason = "no_match"
	ReasonLowConfidence    RejectReason = "low_confidence"
	ReasonEcho             RejectReason = "echo"
	ReasonGlobalCooldown   RejectReason = "global_cooldown"
	ReasonSpellCooldown    RejectReason = "spell_cooldown"
	ReasonInsufficientMana RejectReason = "insufficient_mana"
	ReasonUnknownSpell     RejectReason = "unknown_spell"
)

// Rejection describes an attempt that produced no cast. Rejections are never
// errors; they exist for "try again" hints, telemetry and tests.
type Rejection struct {
	Actor      string       `json:"actor"`
	Reason     RejectReason `json:"reason"`
	Transcript string       `json:"transcript,omitempty"`

	// SpellID and Accuracy describe the closest spell, when one was scored.
	SpellID  string  `json:"spell_id,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`

	// Wait is the remaining cooldown for cooldown rejections.
	Wait time.Duration `json:"wait,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// RemoteCast is a cast reported by a networked opponent or a bot. It bypasses
// speech matching but not the actor's gate, mana or combo state.
type RemoteCast struct {
	Actor     string    `json:"actor"`
	ActorKind ActorKind `json:"actor_kind,omitempty"`
	SpellID   string    `json:"spell_id"`
	Accuracy  float64   `json:"accuracy"`
	Power     float64   `json:"power"`
}

// ActorStatus is the HUD view of one actor.
type ActorStatus struct {
	Chain   int     `json:"chain"`
	Mana    float64 `json:"mana"`
	ManaMax float64 `json:"mana_max"`
}

// Telemetry is a read-only snapshot for HUD display.
type Telemetry struct {
	Loudness float64 `json:"loudness"`
	Peak     float64 `json:"peak"`
	// PitchHz is nil when no pitch was detected on the last tick.
	PitchHz  *float64               `json:"pitch_hz,omitempty"`
	Speaking bool                   `json:"speaking"`
	Actors   map[string]ActorStatus `json:"actors"`
	At       time.Time              `json:"at"`
}
