package segment

import (
	"testing"
	"time"
)

type fakePeak struct {
	peak   float64
	resets int
}

func (f *fakePeak) Peak() float64 { return f.peak }
func (f *fakePeak) ResetPeak()    { f.peak = 0; f.resets++ }

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// speak drives loud ticks every 16ms in [fromMs, toMs).
func speak(s *Segmenter, fromMs, toMs int) {
	for ms := fromMs; ms < toMs; ms += 16 {
		s.Tick(at(ms), 0.5)
	}
}

// quiet drives silent ticks until a boundary or toMs.
func quiet(s *Segmenter, fromMs, toMs int) (Boundary, *Utterance) {
	for ms := fromMs; ms < toMs; ms += 16 {
		if b, u := s.Tick(at(ms), 0.01); b != NoBoundary {
			return b, u
		}
	}
	return NoBoundary, nil
}

func TestSegmenter_PhraseWithFinal(t *testing.T) {
	t.Parallel()

	peak := &fakePeak{}
	s := New(Params{}, peak)

	if b, _ := s.Tick(at(0), 0.5); b != Started {
		t.Fatalf("first loud tick boundary = %v, want Started", b)
	}
	if s.State() != Speaking {
		t.Fatalf("state = %v, want speaking", s.State())
	}
	speak(s, 16, 400)
	peak.peak = 0.5
	if u := s.OfferFinal(Candidate{Text: "lumos", Confidence: 0.9, At: at(350)}); u != nil {
		t.Fatal("OfferFinal while speaking should not complete a phrase")
	}

	b, u := quiet(s, 400, 2000)
	if b != Ended {
		t.Fatalf("boundary = %v, want Ended", b)
	}
	if u == nil {
		t.Fatal("expected an utterance")
	}
	if u.Candidate.Text != "lumos" || u.Peak != 0.5 || u.Late {
		t.Errorf("utterance = %+v", u)
	}
	if got := u.End.Sub(at(384)); got < DefaultSilenceTimeout {
		t.Errorf("phrase ended %v after last loud tick, want >= %v", got, DefaultSilenceTimeout)
	}
	if peak.peak != 0 || peak.resets != 1 {
		t.Errorf("peak not reset: %+v", peak)
	}
}

func TestSegmenter_StaleFinalIgnored(t *testing.T) {
	t.Parallel()

	s := New(Params{LateFinalGrace: -1}, &fakePeak{})
	s.OfferFinal(Candidate{Text: "nox", At: at(0)})

	speak(s, 100, 300)
	if _, u := quiet(s, 300, 2000); u != nil {
		t.Errorf("final from before the phrase was used: %+v", u)
	}
}

func TestSegmenter_AtMostOncePerPhrase(t *testing.T) {
	t.Parallel()

	s := New(Params{}, &fakePeak{})
	speak(s, 0, 200)
	s.OfferFinal(Candidate{Text: "accio", At: at(100)})
	if _, u := quiet(s, 200, 2000); u == nil {
		t.Fatal("first phrase should complete")
	}

	// The same final must not complete the next phrase.
	speak(s, 2000, 2200)
	if _, u := quiet(s, 2200, 4000); u != nil {
		t.Errorf("final reused for a second phrase: %+v", u)
	}
	// Nor may a late offer of it complete the already processed phrase.
	if u := s.OfferFinal(Candidate{Text: "accio", At: at(150)}); u != nil {
		t.Errorf("late offer of old final completed a phrase: %+v", u)
	}
}

func TestSegmenter_SilenceTimeoutBridgesGaps(t *testing.T) {
	t.Parallel()

	s := New(Params{SilenceTimeout: 600 * time.Millisecond}, &fakePeak{})
	speak(s, 0, 200)
	// 400ms pause is shorter than the timeout: still the same phrase.
	if b, _ := quiet(s, 200, 600); b != NoBoundary {
		t.Fatalf("short pause produced boundary %v", b)
	}
	speak(s, 600, 800)
	if s.State() != Speaking {
		t.Fatalf("state = %v, want speaking", s.State())
	}
}

func TestSegmenter_LateFinal(t *testing.T) {
	t.Parallel()

	peak := &fakePeak{}
	s := New(Params{LateFinalGrace: 400 * time.Millisecond}, peak)
	speak(s, 0, 300)
	peak.peak = 0.8

	b, u := quiet(s, 300, 2000)
	if b != Ended || u != nil {
		t.Fatalf("end without final: boundary=%v utterance=%v", b, u)
	}
	ended := s.endedAt

	u = s.OfferFinal(Candidate{Text: "stupefy", Confidence: 0.7, At: ended.Add(200 * time.Millisecond)})
	if u == nil {
		t.Fatal("late final within grace should complete the phrase")
	}
	if !u.Late || u.Peak != 0.8 || u.Candidate.Text != "stupefy" {
		t.Errorf("late utterance = %+v", u)
	}
	if again := s.OfferFinal(Candidate{Text: "stupefy", At: ended.Add(250 * time.Millisecond)}); again != nil {
		t.Error("phrase completed twice")
	}
}

func TestSegmenter_LateFinalAfterGrace(t *testing.T) {
	t.Parallel()

	s := New(Params{LateFinalGrace: 200 * time.Millisecond}, &fakePeak{})
	speak(s, 0, 300)
	quiet(s, 300, 2000)

	if u := s.OfferFinal(Candidate{Text: "reparo", At: s.endedAt.Add(time.Second)}); u != nil {
		t.Errorf("final outside grace completed phrase: %+v", u)
	}
}

func TestSegmenter_DiscardPending(t *testing.T) {
	t.Parallel()

	s := New(Params{}, &fakePeak{})
	speak(s, 0, 200)
	s.OfferFinal(Candidate{Text: "protego", At: at(100)})
	s.DiscardPending()
	if _, u := quiet(s, 200, 2000); u != nil {
		t.Errorf("discarded final was evaluated: %+v", u)
	}
}

func TestSegmenter_Reset(t *testing.T) {
	t.Parallel()

	peak := &fakePeak{peak: 0.9}
	s := New(Params{}, peak)
	speak(s, 0, 100)
	s.Reset()
	if s.State() != Idle {
		t.Errorf("state after reset = %v", s.State())
	}
	if peak.peak != 0 {
		t.Error("Reset did not clear peak")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if Idle.String() != "idle" || Speaking.String() != "speaking" || State(9).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
