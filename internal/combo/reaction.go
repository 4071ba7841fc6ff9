package combo

import "github.com/MrWong99/glyphcast/pkg/spell"

// Reaction is a named bonus triggered when two different elements are cast
// back to back.
type Reaction struct {
	Name        string  `json:"name"`
	Effect      string  `json:"effect"`
	Description string  `json:"description"`
	Multiplier  float64 `json:"multiplier"`

	A spell.Element `json:"-"`
	// B is the partner element. Empty matches any element other than A.
	B spell.Element `json:"-"`
}

func (r Reaction) matches(x, y spell.Element) bool {
	if r.B == "" {
		return x == r.A || y == r.A
	}
	return (x == r.A && y == r.B) || (x == r.B && y == r.A)
}

// Reactions is the fixed reaction table, in lookup order.
var Reactions = []Reaction{
	{Name: "Overload", Effect: "explosive_damage", Description: "Fire + Lightning creates explosive damage", Multiplier: 1.5, A: spell.Fire, B: spell.Lightning},
	{Name: "Steam", Effect: "steam_cloud", Description: "Fire + Ice creates obscuring steam", Multiplier: 1.3, A: spell.Fire, B: spell.Ice},
	{Name: "Superconductor", Effect: "chain_lightning", Description: "Ice + Lightning creates chain lightning", Multiplier: 1.4, A: spell.Ice, B: spell.Lightning},
	{Name: "Wither", Effect: "damage_over_time", Description: "Shadow + Nature creates withering damage", Multiplier: 1.2, A: spell.Shadow, B: spell.Nature},
	{Name: "Arcane Fusion", Effect: "piercing_damage", Description: "Arcane + Any element creates piercing energy", Multiplier: 1.6, A: spell.Arcane},
}

// LookupReaction returns the first reaction for the pair. The lookup is
// symmetric and never matches identical or empty elements.
func LookupReaction(prev, cur spell.Element) (Reaction, bool) {
	if prev == "" || cur == "" || prev == cur {
		return Reaction{}, false
	}
	for _, r := range Reactions {
		if r.matches(prev, cur) {
			return r, true
		}
	}
	return Reaction{}, false
}
