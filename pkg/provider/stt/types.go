package stt

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MinCandidateLength is the shortest trimmed text (in runes) an alternative
// may have to be considered by [Transcript.Best].
const MinCandidateLength = 2

// Alternative is one competing recognition hypothesis for an utterance.
type Alternative struct {
	Text       string
	Confidence float64
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the provider's top hypothesis.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the confidence of Text (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Alternatives holds every hypothesis the provider returned, including
	// the top one. May be nil for providers that emit a single hypothesis.
	Alternatives []Alternative

	// Timestamp is when the transcript arrived from the engine. The voice
	// segmenter compares it against utterance boundaries.
	Timestamp time.Time

	// Generation identifies the engine instance that produced the transcript.
	// It increases each time the engine is restarted so stale results can be
	// recognised and dropped.
	Generation uint64
}

// Best returns the highest-confidence alternative whose trimmed text has at
// least [MinCandidateLength] runes. Text/Confidence count as an alternative
// when Alternatives is empty. ok is false when nothing qualifies. Ties keep
// the earlier alternative.
func (t Transcript) Best() (alt Alternative, ok bool) {
	alts := t.Alternatives
	if len(alts) == 0 {
		alts = []Alternative{{Text: t.Text, Confidence: t.Confidence}}
	}
	for _, a := range alts {
		a.Text = strings.TrimSpace(a.Text)
		if utf8.RuneCountInString(a.Text) < MinCandidateLength {
			continue
		}
		if !ok || a.Confidence > alt.Confidence {
			alt, ok = a, true
		}
	}
	return alt, ok
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of spell incantations.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Wingardium").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// BoostAll wraps each keyword in a KeywordBoost of the given intensity.
func BoostAll(keywords []string, boost float64) []KeywordBoost {
	out := make([]KeywordBoost, len(keywords))
	for i, k := range keywords {
		out[i] = KeywordBoost{Keyword: k, Boost: boost}
	}
	return out
}
