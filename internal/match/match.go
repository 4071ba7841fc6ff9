// Package match selects the spell a transcript most likely names and decides
// whether that guess is good enough to attempt a cast.
//
// A [Matcher] scores the transcript against every spell of a library with
// [pronounce.Target.Score], keeps the single best spell (the earliest spell in
// library order wins ties), and accepts it only when the accuracy clears that
// spell's difficulty threshold and the transcript confidence clears the global
// floor. Falling short is a normal [Status], never an error.
package match

import (
	"errors"
	"fmt"

	"github.com/MrWong99/glyphcast/internal/pronounce"
	"github.com/MrWong99/glyphcast/pkg/spell"
)

// DefaultMinConfidence is the default transcript confidence floor.
const DefaultMinConfidence = 0.4

// Power bounds.
const (
	MinPower = 0.4
	MaxPower = 2.0
)

// Thresholds holds the minimum accuracy (0..100) per difficulty. Index 0 is
// difficulty 1.
type Thresholds [spell.MaxDifficulty]float64

// DefaultThresholds rise monotonically from the easiest to the hardest spells.
var DefaultThresholds = Thresholds{20, 28, 36, 45, 55}

// For returns the threshold for difficulty d, clamping d into range.
func (t Thresholds) For(d int) float64 {
	d = max(spell.MinDifficulty, min(spell.MaxDifficulty, d))
	return t[d-1]
}

// Validate reports thresholds outside 0..100 or decreasing with difficulty.
func (t Thresholds) Validate() error {
	var errs []error
	for i, v := range t {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("difficulty %d: threshold %.1f outside 0..100", i+1, v))
		}
		if i > 0 && v < t[i-1] {
			errs = append(errs, fmt.Errorf("difficulty %d: threshold %.1f below difficulty %d (%.1f)", i+1, v, i, t[i-1]))
		}
	}
	return errors.Join(errs...)
}

// Status classifies a match attempt.
type Status int

const (
	// Matched means the best spell cleared both bars.
	Matched Status = iota
	// NoMatch means no spell reached its difficulty threshold.
	NoMatch
	// LowConfidence means the best spell was accurate enough but the
	// transcript confidence was below the floor.
	LowConfidence
)

func (s Status) String() string {
	switch s {
	case Matched:
		return "matched"
	case NoMatch:
		return "no_match"
	case LowConfidence:
		return "low_confidence"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Params tunes acceptance.
type Params struct {
	Thresholds    Thresholds
	MinConfidence float64
	// PreferDisplay selects the display name instead of the canonical name
	// for [Result.Label]. Cosmetic only.
	PreferDisplay bool
}

// DefaultParams returns the default acceptance parameters.
func DefaultParams() Params {
	return Params{Thresholds: DefaultThresholds, MinConfidence: DefaultMinConfidence}
}

// Result is the best candidate of one evaluation. It is populated for every
// status so callers can show a "try again" hint with the closest spell.
type Result struct {
	Spell      spell.Definition
	Label      string
	Accuracy   float64 // 0..100
	Phonetic   float64 // 0..100
	Letters    []pronounce.Letter
	Confidence float64 // copied from the transcript
	Threshold  float64 // accuracy bar that applied
}

// Option is a functional option for [New].
type Option func(*Matcher)

// WithParams overrides the default parameters.
func WithParams(p Params) Option {
	return func(m *Matcher) { m.params = p }
}

// Matcher scores transcripts against a fixed library. The library and its
// compiled targets are read-only; [Matcher.SetParams] must not race with
// [Matcher.Match].
type Matcher struct {
	lib     *spell.Library
	targets []pronounce.Target
	params  Params
}

// New compiles every spell of lib.
func New(lib *spell.Library, opts ...Option) *Matcher {
	m := &Matcher{lib: lib, params: DefaultParams()}
	for _, o := range opts {
		o(m)
	}
	m.targets = make([]pronounce.Target, lib.Len())
	for i := range m.targets {
		m.targets[i] = pronounce.Compile(pronounce.FormsOf(lib.At(i)))
	}
	return m
}

// Params returns the active parameters.
func (m *Matcher) Params() Params { return m.params }

// SetParams replaces the active parameters.
func (m *Matcher) SetParams(p Params) { m.params = p }

// Library returns the spell library the matcher was built from.
func (m *Matcher) Library() *spell.Library { return m.lib }

// Match evaluates text spoken with the given confidence. If the library is
// empty the status is [NoMatch] with a zero Result.
func (m *Matcher) Match(text string, confidence float64) (Result, Status) {
	if len(m.targets) == 0 {
		return Result{Confidence: confidence}, NoMatch
	}

	bestIdx := 0
	best := m.targets[0].Score(text)
	for i := 1; i < len(m.targets); i++ {
		r := m.targets[i].Score(text)
		if r.Accuracy > best.Accuracy {
			bestIdx, best = i, r
		}
	}

	def := m.lib.At(bestIdx)
	res := Result{
		Spell:      def,
		Label:      def.Label(m.params.PreferDisplay),
		Accuracy:   best.Accuracy,
		Phonetic:   best.Phonetic,
		Letters:    best.Letters,
		Confidence: confidence,
		Threshold:  m.params.Thresholds.For(def.Difficulty),
	}
	switch {
	case res.Accuracy < res.Threshold:
		return res, NoMatch
	case confidence < m.params.MinConfidence:
		return res, LowConfidence
	default:
		return res, Matched
	}
}

// Power converts accuracy (0..100) and peak loudness (0..1) into cast power
// in [MinPower, MaxPower].
func Power(accuracy, peak float64) float64 {
	charge := clamp(0.6+0.4*(accuracy/100), 0.4, 1.0)
	return clamp(charge*(0.7+0.3*peak), MinPower, MaxPower)
}

// ChargeTier buckets peak loudness: 2 above 0.7, 1 above 0.4, otherwise 0.
func ChargeTier(peak float64) int {
	switch {
	case peak > 0.7:
		return 2
	case peak > 0.4:
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
