// Package segment decides when a spoken phrase has ended and which final
// transcript belongs to it.
//
// The [Segmenter] is a two-state machine (Idle, Speaking) driven by the
// per-tick loudness. When speech stops for the silence timeout it pairs the
// phrase with the newest final transcript that arrived after the phrase began
// and hands both, together with the decayed peak loudness, to the caller. Each
// phrase is handed out at most once no matter how many interim or final
// results the speech engine produces for it.
package segment

import "time"

const (
	DefaultThreshold      = 0.05
	DefaultSilenceTimeout = 600 * time.Millisecond
	DefaultLateFinalGrace = 400 * time.Millisecond
)

// State is the segmenter state.
type State int

const (
	Idle State = iota
	Speaking
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Boundary reports a state change produced by a tick.
type Boundary int

const (
	NoBoundary Boundary = iota
	Started
	Ended
)

// Candidate is the transcript retained for the current phrase.
type Candidate struct {
	Text       string
	Confidence float64
	At         time.Time
}

// Utterance is a completed phrase ready for spell matching.
type Utterance struct {
	Candidate Candidate
	Peak      float64
	Start     time.Time
	End       time.Time
	// Late is set when the final arrived after the phrase had already ended.
	Late bool
}

// PeakTracker is the source of the decayed peak loudness. The segmenter
// reads it when a phrase ends and then resets it.
type PeakTracker interface {
	Peak() float64
	ResetPeak()
}

// Params tunes the segmenter. Zero Threshold or SilenceTimeout take the
// defaults; a zero LateFinalGrace disables late pairing.
type Params struct {
	Threshold      float64
	SilenceTimeout time.Duration
	LateFinalGrace time.Duration
}

func (p Params) withDefaults() Params {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.SilenceTimeout <= 0 {
		p.SilenceTimeout = DefaultSilenceTimeout
	}
	if p.LateFinalGrace < 0 {
		p.LateFinalGrace = 0
	}
	return p
}

// Segmenter is not safe for concurrent use; it belongs to one session loop.
type Segmenter struct {
	params Params
	peak   PeakTracker

	state     State
	segStart  time.Time
	lastLoud  time.Time
	processed bool

	final    Candidate
	hasFinal bool

	// Set between a phrase ending without a usable final and the grace
	// window expiring.
	awaitingLate bool
	endedAt      time.Time
	endPeak      float64
}

// New returns an idle Segmenter reading peaks from peak.
func New(p Params, peak PeakTracker) *Segmenter {
	return &Segmenter{params: p.withDefaults(), peak: peak}
}

// SetParams swaps tuning without disturbing the current phrase.
func (s *Segmenter) SetParams(p Params) { s.params = p.withDefaults() }

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Tick advances the state machine with this tick's loudness. It returns the
// boundary crossed, if any, and the completed utterance when a phrase ended
// with a matching final.
func (s *Segmenter) Tick(now time.Time, loudness float64) (Boundary, *Utterance) {
	voiced := loudness > s.params.Threshold
	switch s.state {
	case Idle:
		if s.awaitingLate && now.Sub(s.endedAt) > s.params.LateFinalGrace {
			s.awaitingLate = false
		}
		if !voiced {
			return NoBoundary, nil
		}
		s.state = Speaking
		s.segStart = now
		s.lastLoud = now
		s.processed = false
		s.awaitingLate = false
		return Started, nil

	case Speaking:
		if voiced {
			s.lastLoud = now
			return NoBoundary, nil
		}
		if now.Sub(s.lastLoud) < s.params.SilenceTimeout {
			return NoBoundary, nil
		}
		return Ended, s.end(now)
	}
	return NoBoundary, nil
}

func (s *Segmenter) end(now time.Time) *Utterance {
	s.state = Idle
	peak := s.peak.Peak()
	s.peak.ResetPeak()

	if s.processed {
		return nil
	}
	if s.hasFinal && !s.final.At.Before(s.segStart) {
		s.processed = true
		return &Utterance{Candidate: s.final, Peak: peak, Start: s.segStart, End: now}
	}
	if s.params.LateFinalGrace > 0 {
		s.awaitingLate = true
		s.endedAt = now
		s.endPeak = peak
	}
	return nil
}

// OfferFinal retains c as the newest final transcript. If the previous phrase
// ended moments ago without a usable final and c belongs to it, the phrase is
// completed immediately and returned.
func (s *Segmenter) OfferFinal(c Candidate) *Utterance {
	s.final = c
	s.hasFinal = true

	if s.state != Idle || !s.awaitingLate || s.processed {
		return nil
	}
	if c.At.Sub(s.endedAt) > s.params.LateFinalGrace || c.At.Before(s.segStart) {
		return nil
	}
	s.awaitingLate = false
	s.processed = true
	return &Utterance{Candidate: c, Peak: s.endPeak, Start: s.segStart, End: s.endedAt, Late: true}
}

// DiscardPending forgets the retained final and any phrase awaiting a late
// final. Session stop and speech-engine restarts call it so a stale
// transcript is never evaluated.
func (s *Segmenter) DiscardPending() {
	s.final = Candidate{}
	s.hasFinal = false
	s.awaitingLate = false
}

// Reset returns the segmenter to Idle with no retained state.
func (s *Segmenter) Reset() {
	s.DiscardPending()
	s.state = Idle
	s.segStart = time.Time{}
	s.lastLoud = time.Time{}
	s.processed = false
	s.peak.ResetPeak()
}
