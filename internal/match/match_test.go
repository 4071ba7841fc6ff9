package match_test

import (
	"testing"

	"github.com/MrWong99/glyphcast/internal/match"
	"github.com/MrWong99/glyphcast/pkg/spell"
)

func TestMatch_ExactLumos(t *testing.T) {
	t.Parallel()

	m := match.New(spell.Default())
	res, st := m.Match("Lumos", 0.9)
	if st != match.Matched {
		t.Fatalf("status = %v, want matched", st)
	}
	if res.Spell.ID != "lumos" {
		t.Errorf("spell = %q, want lumos", res.Spell.ID)
	}
	if res.Accuracy < 99 {
		t.Errorf("accuracy = %.2f, want >= 99", res.Accuracy)
	}
	if res.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", res.Confidence)
	}
	if res.Threshold != match.DefaultThresholds.For(1) {
		t.Errorf("threshold = %f, want %f", res.Threshold, match.DefaultThresholds.For(1))
	}

	p := match.Power(res.Accuracy, 0.5)
	if p < match.MinPower || p > match.MaxPower {
		t.Errorf("power = %f, want in [%f, %f]", p, match.MinPower, match.MaxPower)
	}
	if tier := match.ChargeTier(0.5); tier != 1 {
		t.Errorf("charge tier = %d, want 1", tier)
	}
}

func TestMatch_Garbage(t *testing.T) {
	t.Parallel()

	m := match.New(spell.Default())
	_, st := m.Match("xyz123", 0.99)
	if st != match.NoMatch {
		t.Errorf("status = %v, want no_match", st)
	}
}

func TestMatch_LowConfidence(t *testing.T) {
	t.Parallel()

	m := match.New(spell.Default())
	res, st := m.Match("Lumos", 0.1)
	if st != match.LowConfidence {
		t.Fatalf("status = %v, want low_confidence", st)
	}
	if res.Spell.ID != "lumos" {
		t.Errorf("closest spell = %q, want lumos", res.Spell.ID)
	}
}

func TestMatch_NeverBelowThreshold(t *testing.T) {
	t.Parallel()

	m := match.New(spell.Default())
	phrases := []string{
		"lumos", "loomos", "nocks", "expelliarmus", "expel armus", "stoopify",
		"protect", "accio", "ack yo", "leviosa", "alohamora", "in send ee oh",
		"aqua menti", "episkey", "petrify", "ridiculous", "expecto", "repair",
		"finite", "silence", "confuse", "sectum", "avada", "hello there",
		"banana", "fire", "heal me", "a", "zzzz",
	}
	for _, p := range phrases {
		res, st := m.Match(p, 1)
		if st != match.Matched {
			continue
		}
		want := match.DefaultThresholds.For(res.Spell.Difficulty)
		if res.Accuracy < want {
			t.Errorf("%q matched %s at %.2f below threshold %.2f", p, res.Spell.ID, res.Accuracy, want)
		}
	}
}

func TestMatch_TieGoesToFirstSpell(t *testing.T) {
	t.Parallel()

	lib, err := spell.NewLibrary([]spell.Definition{
		{ID: "first", Canonical: "Nox", Element: spell.Shadow, Difficulty: 1},
		{ID: "second", Canonical: "Nox", Element: spell.Fire, Difficulty: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, st := match.New(lib).Match("nox", 1)
	if st != match.Matched {
		t.Fatalf("status = %v, want matched", st)
	}
	if res.Spell.ID != "first" {
		t.Errorf("spell = %q, want first", res.Spell.ID)
	}
}

func TestMatch_PreferDisplayLabel(t *testing.T) {
	t.Parallel()

	lib, err := spell.NewLibrary([]spell.Definition{
		{ID: "nox", Canonical: "Nox", DisplayName: "Darkness", Element: spell.Shadow, Difficulty: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	p := match.DefaultParams()
	p.PreferDisplay = true
	m := match.New(lib, match.WithParams(p))

	res, _ := m.Match("nox", 1)
	if res.Label != "Darkness" {
		t.Errorf("label = %q, want Darkness", res.Label)
	}

	p.PreferDisplay = false
	m.SetParams(p)
	res2, _ := m.Match("nox", 1)
	if res2.Label != "Nox" {
		t.Errorf("label = %q, want Nox", res2.Label)
	}
	if res.Accuracy != res2.Accuracy {
		t.Errorf("label preference changed accuracy: %f vs %f", res.Accuracy, res2.Accuracy)
	}
}

func TestMatch_StricterThresholdRejects(t *testing.T) {
	t.Parallel()

	p := match.DefaultParams()
	p.Thresholds = match.Thresholds{95, 95, 95, 95, 95}
	m := match.New(spell.Default(), match.WithParams(p))

	if _, st := m.Match("loomos", 1); st != match.NoMatch {
		t.Errorf("status = %v, want no_match under strict thresholds", st)
	}
	if _, st := m.Match("lumos", 1); st != match.Matched {
		t.Errorf("status = %v, want matched for exact name", st)
	}
}

func TestThresholds_Validate(t *testing.T) {
	t.Parallel()

	if err := match.DefaultThresholds.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	if err := (match.Thresholds{30, 20, 40, 50, 60}).Validate(); err == nil {
		t.Error("decreasing thresholds: want error")
	}
	if err := (match.Thresholds{20, 30, 40, 50, 120}).Validate(); err == nil {
		t.Error("threshold over 100: want error")
	}
}

func TestThresholds_ForClamps(t *testing.T) {
	t.Parallel()

	th := match.DefaultThresholds
	if th.For(0) != th[0] || th.For(9) != th[4] {
		t.Errorf("For did not clamp: %f %f", th.For(0), th.For(9))
	}
}

func TestPowerAndChargeTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		acc, peak float64
		want      float64
	}{
		{100, 1, 1.0},
		{100, 0, 0.7},
		{0, 0, 0.42},
		{0, 1, 0.6},
	}
	for _, tt := range tests {
		got := match.Power(tt.acc, tt.peak)
		if got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("Power(%v, %v) = %v, want %v", tt.acc, tt.peak, got, tt.want)
		}
	}

	tiers := []struct {
		peak float64
		want int
	}{{0, 0}, {0.4, 0}, {0.41, 1}, {0.7, 1}, {0.71, 2}, {1, 2}}
	for _, tt := range tiers {
		if got := match.ChargeTier(tt.peak); got != tt.want {
			t.Errorf("ChargeTier(%v) = %d, want %d", tt.peak, got, tt.want)
		}
	}
}
