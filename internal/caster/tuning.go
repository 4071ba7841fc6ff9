package caster

import (
	"errors"
	"fmt"

	"github.com/MrWong99/glyphcast/internal/combo"
	"github.com/MrWong99/glyphcast/internal/feature"
	"github.com/MrWong99/glyphcast/internal/gate"
	"github.com/MrWong99/glyphcast/internal/mana"
	"github.com/MrWong99/glyphcast/internal/match"
	"github.com/MrWong99/glyphcast/internal/segment"
)

// DefaultDamageScale converts a spell's base power into base damage.
const DefaultDamageScale = 20

// ManaTuning configures every actor's mana pool.
type ManaTuning struct {
	Enabled        bool
	Max            float64
	RegenPerSecond float64
}

// Tuning gathers every live-adjustable threshold of a session.
type Tuning struct {
	Feature feature.Params
	Segment segment.Params
	Match   match.Params
	Gate    gate.Params
	Combo   combo.Params
	Mana    ManaTuning

	// DamageScale multiplies a spell's base power before combo resolution.
	DamageScale float64
}

// DefaultTuning returns the defaults of every component.
func DefaultTuning() Tuning {
	return Tuning{
		Segment: segment.Params{
			Threshold:      segment.DefaultThreshold,
			SilenceTimeout: segment.DefaultSilenceTimeout,
			LateFinalGrace: segment.DefaultLateFinalGrace,
		},
		Match: match.DefaultParams(),
		Gate:  gate.DefaultParams(),
		Combo: combo.DefaultParams(),
		Mana: ManaTuning{
			Enabled:        true,
			Max:            mana.DefaultMax,
			RegenPerSecond: mana.DefaultRegenPerSecond,
		},
		DamageScale: DefaultDamageScale,
	}
}

// Validate reports every out-of-range value.
func (t Tuning) Validate() error {
	var errs []error
	if err := t.Match.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("min_accuracy: %w", err))
	}
	if t.Match.MinConfidence < 0 || t.Match.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence %.2f outside 0..1", t.Match.MinConfidence))
	}
	if t.Gate.EchoWindow < 0 || t.Gate.GlobalCooldown < 0 {
		errs = append(errs, errors.New("echo and global cooldown windows must not be negative"))
	}
	if t.Combo.Decay < 0 {
		errs = append(errs, errors.New("combo decay must not be negative"))
	}
	if t.Combo.MinAccuracy < 0 || t.Combo.MinAccuracy > 100 {
		errs = append(errs, fmt.Errorf("combo min accuracy %.1f outside 0..100", t.Combo.MinAccuracy))
	}
	if t.Segment.Threshold < 0 || t.Segment.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("voice activity threshold %.3f outside [0, 1)", t.Segment.Threshold))
	}
	if t.Feature.PeakDecay < 0 || t.Feature.PeakDecay > 1 {
		errs = append(errs, fmt.Errorf("peak decay %.3f outside 0..1", t.Feature.PeakDecay))
	}
	if t.Mana.Enabled && t.Mana.Max <= 0 {
		errs = append(errs, errors.New("mana max must be positive when mana is enabled"))
	}
	if t.DamageScale <= 0 {
		errs = append(errs, errors.New("damage scale must be positive"))
	}
	return errors.Join(errs...)
}
