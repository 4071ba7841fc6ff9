package gate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphcast/internal/gate"
	"github.com/MrWong99/glyphcast/internal/mana"
)

var t0 = time.Unix(1_700_000_000, 0)

func attempt(id, text string, cd time.Duration) gate.Attempt {
	return gate.Attempt{SpellID: id, Transcript: text, Cooldown: cd, ManaCost: 15}
}

func TestGate_ColdAccepts(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultParams())
	d := g.Evaluate(t0, attempt("lumos", "Lumos", time.Second), nil)
	if !d.Accepted() {
		t.Fatalf("reason = %v, want accepted", d.Reason)
	}
	s := g.Snapshot()
	if !s.LastCast.Equal(t0) || s.LastTranscript != "lumos" || !s.SpellCasts["lumos"].Equal(t0) {
		t.Errorf("state not updated: %+v", s)
	}
}

func TestGate_EchoSuppression(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.Params{EchoWindow: 250 * time.Millisecond, GlobalCooldown: 0})
	if d := g.Evaluate(t0, attempt("lumos", "Lumos!", 0), nil); !d.Accepted() {
		t.Fatalf("first: %v", d.Reason)
	}
	if d := g.Evaluate(t0.Add(100*time.Millisecond), attempt("lumos", "  lumos ", 0), nil); d.Reason != gate.Echo {
		t.Errorf("second within echo window: %v, want echo", d.Reason)
	}
	if d := g.Evaluate(t0.Add(300*time.Millisecond), attempt("lumos", "lumos", 0), nil); !d.Accepted() {
		t.Errorf("after echo window: %v, want accepted", d.Reason)
	}
}

func TestGate_EchoTakesPrecedence(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultParams())
	g.Evaluate(t0, attempt("lumos", "lumos", 2*time.Second), nil)
	d := g.Evaluate(t0.Add(100*time.Millisecond), attempt("lumos", "lumos", 2*time.Second), nil)
	if d.Reason != gate.Echo {
		t.Errorf("reason = %v, want echo", d.Reason)
	}
}

func TestGate_GlobalCooldown(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.Params{EchoWindow: 250 * time.Millisecond, GlobalCooldown: time.Second})
	g.Evaluate(t0, attempt("lumos", "lumos", 0), nil)

	d := g.Evaluate(t0.Add(400*time.Millisecond), attempt("nox", "nox", 0), nil)
	if d.Reason != gate.GlobalCooldown {
		t.Fatalf("reason = %v, want global_cooldown", d.Reason)
	}
	if d.Wait != 600*time.Millisecond {
		t.Errorf("wait = %v, want 600ms", d.Wait)
	}
	if d := g.Evaluate(t0.Add(time.Second), attempt("nox", "nox", 0), nil); !d.Accepted() {
		t.Errorf("at exactly the cooldown: %v, want accepted", d.Reason)
	}
}

func TestGate_SpellCooldown(t *testing.T) {
	t.Parallel()

	p := gate.Params{EchoWindow: 250 * time.Millisecond, GlobalCooldown: 500 * time.Millisecond}
	tests := []struct {
		name string
		gap  time.Duration
		want gate.Reason
	}{
		{"inside spell cooldown", 1500 * time.Millisecond, gate.SpellCooldown},
		{"after spell cooldown", 2500 * time.Millisecond, gate.Accepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := gate.New(p)
			g.Evaluate(t0, attempt("stupefy", "stupefy", 2*time.Second), nil)
			d := g.Evaluate(t0.Add(tt.gap), attempt("stupefy", "stupefy", 2*time.Second), nil)
			if d.Reason != tt.want {
				t.Errorf("reason = %v, want %v", d.Reason, tt.want)
			}
		})
	}
}

func TestGate_InsufficientManaLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.Params{GlobalCooldown: 0})
	pool := mana.New(20, 0)

	if d := g.Evaluate(t0, attempt("lumos", "lumos", 0), pool); !d.Accepted() {
		t.Fatalf("first: %v", d.Reason)
	}
	before := g.Snapshot()
	d := g.Evaluate(t0.Add(time.Second), attempt("nox", "nox", 0), pool)
	if d.Reason != gate.InsufficientMana {
		t.Fatalf("reason = %v, want insufficient_mana", d.Reason)
	}
	after := g.Snapshot()
	if !after.LastCast.Equal(before.LastCast) || after.LastTranscript != before.LastTranscript {
		t.Errorf("rejection mutated state: before=%+v after=%+v", before, after)
	}
	if _, ok := after.SpellCasts["nox"]; ok {
		t.Error("rejected spell recorded in cooldown map")
	}
}

func TestGate_ManaNotSpentOnCooldownRejection(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultParams())
	pool := mana.New(100, 0)
	g.Evaluate(t0, attempt("lumos", "lumos", 0), pool)
	g.Evaluate(t0.Add(500*time.Millisecond), attempt("nox", "nox", 0), pool)
	if got := pool.Level(t0.Add(500 * time.Millisecond)); got != 85 {
		t.Errorf("mana = %v, want 85 (only the accepted cast pays)", got)
	}
}

func TestGate_ResetAndCooldownRemaining(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultParams())
	g.Evaluate(t0, attempt("lumos", "lumos", 3*time.Second), nil)
	if got := g.CooldownRemaining(t0.Add(time.Second), "lumos", 3*time.Second); got != 2*time.Second {
		t.Errorf("remaining = %v, want 2s", got)
	}
	if got := g.CooldownRemaining(t0.Add(5*time.Second), "lumos", 3*time.Second); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
	g.Reset()
	if s := g.Snapshot(); !s.LastCast.IsZero() || len(s.SpellCasts) != 0 {
		t.Errorf("state after reset: %+v", s)
	}
	if d := g.Evaluate(t0.Add(10*time.Millisecond), attempt("lumos", "lumos", 3*time.Second), nil); !d.Accepted() {
		t.Errorf("after reset: %v, want accepted", d.Reason)
	}
}

func TestGate_ConcurrentEvaluationsAcceptOnce(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultParams())
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Evaluate(t0, attempt("lumos", "lumos", time.Second), nil).Accepted() {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
}

func TestReason_String(t *testing.T) {
	t.Parallel()

	want := map[gate.Reason]string{
		gate.Accepted:         "accepted",
		gate.Echo:             "echo",
		gate.GlobalCooldown:   "global_cooldown",
		gate.SpellCooldown:    "spell_cooldown",
		gate.InsufficientMana: "insufficient_mana",
	}
	for r, s := range want {
		if r.String() != s {
			t.Errorf("%d.String() = %q, want %q", int(r), r.String(), s)
		}
	}
}
