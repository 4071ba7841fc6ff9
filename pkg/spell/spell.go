// Package spell defines the spell data model shared by every component of the
// casting pipeline: the element enum, the immutable [Definition] record and the
// read-only [Library] that owns them.
//
// A Library is loaded once at startup (from YAML or from the embedded default
// set) and is safe to share across goroutines and actors without locking.
package spell

import (
	"fmt"
	"time"
)

// Element is the elemental affinity of a spell. Elements drive the reaction
// table consulted by the combo resolver.
type Element string

const (
	Fire      Element = "fire"
	Ice       Element = "ice"
	Lightning Element = "lightning"
	Shadow    Element = "shadow"
	Nature    Element = "nature"
	Arcane    Element = "arcane"
)

// Elements lists every valid element in declaration order.
var Elements = []Element{Fire, Ice, Lightning, Shadow, Nature, Arcane}

// IsValid reports whether e is one of the known elements.
func (e Element) IsValid() bool {
	for _, v := range Elements {
		if e == v {
			return true
		}
	}
	return false
}

// String returns the element name.
func (e Element) String() string { return string(e) }

const (
	// MinDifficulty and MaxDifficulty bound [Definition.Difficulty].
	MinDifficulty = 1
	MaxDifficulty = 5
)

// Definition describes a single castable spell. Values are immutable once the
// owning [Library] has been built; callers receive copies.
type Definition struct {
	// ID is the unique, stable identifier (e.g. "wingardium-leviosa").
	ID string `yaml:"id" json:"id"`

	// Canonical is the incantation players are expected to speak.
	Canonical string `yaml:"canonical" json:"canonical"`

	// DisplayName is a friendlier label for UI surfaces (e.g. "Levitate").
	DisplayName string `yaml:"display_name" json:"display_name"`

	// Aliases are alternative spellings and mis-hearings that should still match.
	// Order is preserved.
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`

	// Phonemes are syllable hints such as "LOO-mos" used by the phonetic scorer.
	Phonemes []string `yaml:"phonemes" json:"phonemes,omitempty"`

	// Category is a free-form grouping (Charm, Jinx, Hex, Curse, ...).
	Category string `yaml:"category" json:"category,omitempty"`

	Element Element `yaml:"element" json:"element"`

	// Difficulty ranges from 1 (trivial) to 5 (hardest). Higher difficulty
	// raises the accuracy required to cast.
	Difficulty int `yaml:"difficulty" json:"difficulty"`

	// BasePower scales damage. Negative values heal.
	BasePower float64 `yaml:"base_power" json:"base_power"`

	// CooldownMs is the per-spell cooldown window in milliseconds.
	CooldownMs int `yaml:"cooldown_ms" json:"cooldown_ms"`

	// ManaCost is the mana consumed on a successful cast. Zero means the
	// library default of 10 + 5×Difficulty.
	ManaCost int `yaml:"mana_cost" json:"mana_cost"`

	// Effect is a short human-readable description of what the spell does.
	Effect string `yaml:"effect" json:"effect,omitempty"`
}

// Cooldown returns CooldownMs as a [time.Duration].
func (d Definition) Cooldown() time.Duration {
	return time.Duration(d.CooldownMs) * time.Millisecond
}

// Label returns DisplayName when preferDisplay is set and a display name
// exists, and Canonical otherwise. It is purely cosmetic.
func (d Definition) Label(preferDisplay bool) string {
	if preferDisplay && d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Canonical
}

// DefaultManaCost returns the mana cost used when a definition omits one.
func DefaultManaCost(difficulty int) int {
	return 10 + 5*difficulty
}

func (d Definition) validate() error {
	var problems []string
	if d.ID == "" {
		problems = append(problems, "id is empty")
	}
	if d.Canonical == "" {
		problems = append(problems, "canonical name is empty")
	}
	if !d.Element.IsValid() {
		problems = append(problems, fmt.Sprintf("element %q is not one of %v", d.Element, Elements))
	}
	if d.Difficulty < MinDifficulty || d.Difficulty > MaxDifficulty {
		problems = append(problems, fmt.Sprintf("difficulty %d out of range [%d, %d]", d.Difficulty, MinDifficulty, MaxDifficulty))
	}
	if d.CooldownMs < 0 {
		problems = append(problems, fmt.Sprintf("cooldown_ms %d is negative", d.CooldownMs))
	}
	if d.ManaCost < 0 {
		problems = append(problems, fmt.Sprintf("mana_cost %d is negative", d.ManaCost))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("spell %q: %v", d.ID, problems)
}
