// Package feature turns raw time-domain audio into the per-tick features the
// casting pipeline runs on: a normalised loudness value, an optional pitch
// estimate, and a decaying peak loudness used for cast power.
//
// Loudness and pitch are pure functions of the sample window. The only state
// is the peak tracker inside [Extractor].
package feature

import "math"

const (
	DefaultNoiseFloor     = 0.015
	DefaultLoudnessScale  = 0.3
	DefaultPeakDecay      = 0.97
	DefaultQuietThreshold = 0.008

	MinPitchHz = 60.0
	MaxPitchHz = 500.0

	// minPeakRatio is the fraction of zero-lag energy a correlation peak must
	// reach to count as periodic.
	minPeakRatio = 0.3
)

// Params tunes the feature mapping. Zero fields take the package defaults.
type Params struct {
	// NoiseFloor is subtracted from RMS before scaling.
	NoiseFloor float64
	// LoudnessScale is the RMS span (above the floor) mapped to loudness 1.
	LoudnessScale float64
	// PeakDecay multiplies the peak once per tick (0.95–0.98 decays 2–5%).
	PeakDecay float64
	// QuietThreshold is the RMS below which no pitch is estimated.
	QuietThreshold float64
}

func (p Params) withDefaults() Params {
	if p.NoiseFloor <= 0 {
		p.NoiseFloor = DefaultNoiseFloor
	}
	if p.LoudnessScale <= 0 {
		p.LoudnessScale = DefaultLoudnessScale
	}
	if p.PeakDecay <= 0 || p.PeakDecay > 1 {
		p.PeakDecay = DefaultPeakDecay
	}
	if p.QuietThreshold <= 0 {
		p.QuietThreshold = DefaultQuietThreshold
	}
	return p
}

// Features is the output of one analysis tick.
type Features struct {
	RMS      float64
	Loudness float64 // 0..1
	PitchHz  float64 // valid only when HasPitch
	HasPitch bool
	Peak     float64 // decayed peak loudness after this tick
}

// RMS returns the root-mean-square of samples, or 0 for an empty window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Loudness maps an RMS value to 0..1 as clamp((rms-floor)/scale, 0, 1).
func Loudness(rms, floor, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp((rms-floor)/scale, 0, 1)
}

// Pitch estimates the fundamental frequency of samples by autocorrelation.
// It returns ok=false when the window is quieter than quiet, too short to
// hold a 60 Hz period, aperiodic, or the estimate falls outside 60–500 Hz.
func Pitch(samples []float32, sampleRate int, quiet float64) (hz float64, ok bool) {
	if sampleRate <= 0 || RMS(samples) < quiet {
		return 0, false
	}
	minLag := int(math.Floor(float64(sampleRate) / MaxPitchHz))
	maxLag := int(math.Ceil(float64(sampleRate) / MinPitchHz))
	n := len(samples)
	if n < 2*minLag || minLag < 1 {
		return 0, false
	}
	maxLag = min(maxLag, n-2)

	// Lags beyond maxLag+1 would only describe pitches under 60 Hz.
	ac := make([]float64, maxLag+2)
	for lag := range ac {
		var sum float64
		for i := 0; i+lag < n; i++ {
			sum += float64(samples[i]) * float64(samples[i+lag])
		}
		ac[lag] = sum
	}

	// Skip the zero-lag lobe: walk down to the first local minimum.
	d := 0
	for d < len(ac)-1 && ac[d] > ac[d+1] {
		d++
	}

	best, bestLag := math.Inf(-1), -1
	for lag := d; lag <= maxLag; lag++ {
		if ac[lag] > best {
			best, bestLag = ac[lag], lag
		}
	}
	if bestLag <= 0 || best < ac[0]*minPeakRatio {
		return 0, false
	}

	period := float64(bestLag)
	x1, x2, x3 := ac[bestLag-1], ac[bestLag], ac[bestLag+1]
	if a := (x1 + x3 - 2*x2) / 2; a != 0 {
		b := (x3 - x1) / 2
		period += -b / (2 * a)
	}
	if period <= 0 || math.IsInf(period, 0) || math.IsNaN(period) {
		return 0, false
	}

	hz = float64(sampleRate) / period
	if hz < MinPitchHz || hz > MaxPitchHz {
		return 0, false
	}
	return hz, true
}

// Extractor computes Features once per tick and owns the peak tracker. It is
// not safe for concurrent use; the session loop is its single owner.
type Extractor struct {
	params Params
	peak   float64
}

// NewExtractor returns an Extractor with the given parameters.
func NewExtractor(p Params) *Extractor {
	return &Extractor{params: p.withDefaults()}
}

// SetParams swaps tuning parameters without resetting the peak.
func (e *Extractor) SetParams(p Params) { e.params = p.withDefaults() }

// Params returns the effective parameters.
func (e *Extractor) Params() Params { return e.params }

// Extract analyses one window. An empty window (no audio this tick) yields
// zero loudness and still decays the peak.
func (e *Extractor) Extract(samples []float32, sampleRate int) Features {
	rms := RMS(samples)
	f := Features{
		RMS:      rms,
		Loudness: Loudness(rms, e.params.NoiseFloor, e.params.LoudnessScale),
	}
	f.PitchHz, f.HasPitch = Pitch(samples, sampleRate, e.params.QuietThreshold)
	e.peak = max(e.peak*e.params.PeakDecay, f.Loudness)
	f.Peak = e.peak
	return f
}

// Peak returns the current decayed peak loudness.
func (e *Extractor) Peak() float64 { return e.peak }

// ResetPeak sets the peak tracker back to zero.
func (e *Extractor) ResetPeak() { e.peak = 0 }

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
