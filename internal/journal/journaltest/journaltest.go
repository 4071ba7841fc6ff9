// Package journaltest is a behavioural test suite every journal.Store
// implementation runs against itself.
package journaltest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/pkg/types"
)

// Event builds a cast event for actor at base+offset.
func Event(id, actor string, offset time.Duration, accuracy float64, chain, damage int, reaction bool) types.CastEvent {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	e := types.CastEvent{
		ID:              id,
		SessionID:       "s-1",
		Actor:           actor,
		ActorKind:       types.ActorPlayer,
		SpellID:         "incendio",
		Label:           "Incendio",
		Element:         "fire",
		Category:        "Curse",
		Transcript:      "incendio",
		Accuracy:        accuracy,
		Phonetic:        100,
		Confidence:      0.9,
		Power:           1.2,
		ChargeTier:      1,
		ManaCost:        20,
		Chain:           chain,
		ComboMultiplier: 1 + 0.1*float64(chain-1),
		Damage:          damage,
		Letters:         []types.Letter{{Char: "i", Correct: true}, {Char: "n", Correct: false}},
		Timestamp:       base.Add(offset),
	}
	if reaction {
		e.Reaction = &types.Reaction{Name: "Overload", Effect: "overload", Description: "boom", Multiplier: 1.5}
	}
	return e
}

// Run exercises s. newStore must return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) journal.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("RecentNewestFirst", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		for i := range 5 {
			e := Event(fmt.Sprintf("e%d", i), "player", time.Duration(i)*time.Second, 90, 1, 10, false)
			if err := s.Append(ctx, e); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		got, err := s.Recent(ctx, "", 3)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) != 3 || got[0].ID != "e4" || got[2].ID != "e2" {
			t.Fatalf("Recent ids = %v, want e4 e3 e2", ids(got))
		}
	})

	t.Run("RoundTripsEvent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		want := Event("rt", "player", 0, 87.5, 3, 26, true)
		if err := s.Append(ctx, want); err != nil {
			t.Fatalf("Append: %v", err)
		}
		got, err := s.Recent(ctx, "player", 1)
		if err != nil || len(got) != 1 {
			t.Fatalf("Recent = %v, %v", got, err)
		}
		g := got[0]
		if g.SpellID != want.SpellID || g.Accuracy != want.Accuracy || g.Chain != 3 || g.Damage != 26 {
			t.Errorf("event = %+v", g)
		}
		if g.Reaction == nil || g.Reaction.Name != "Overload" {
			t.Errorf("reaction = %+v", g.Reaction)
		}
		if len(g.Letters) != 2 || g.Letters[1].Correct {
			t.Errorf("letters = %+v", g.Letters)
		}
		if !g.Timestamp.Equal(want.Timestamp) {
			t.Errorf("timestamp = %v, want %v", g.Timestamp, want.Timestamp)
		}
	})

	t.Run("DuplicateIgnored", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		e := Event("dup", "player", 0, 90, 1, 10, false)
		for range 2 {
			if err := s.Append(ctx, e); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		st, err := s.Stats(ctx, "")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Casts != 1 {
			t.Errorf("casts = %d, want 1", st.Casts)
		}
	})

	t.Run("StatsPerActor", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		events := []types.CastEvent{
			Event("a1", "player", 0, 80, 1, 20, false),
			Event("a2", "player", time.Second, 100, 4, 30, true),
			Event("b1", "rival", 2*time.Second, 50, 2, 5, false),
		}
		for _, e := range events {
			if err := s.Append(ctx, e); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		st, err := s.Stats(ctx, "player")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Casts != 2 || st.BestChain != 4 || st.Reactions != 1 || st.TotalDamage != 50 {
			t.Errorf("player stats = %+v", st)
		}
		if math.Abs(st.AverageAccuracy-90) > 1e-9 {
			t.Errorf("average accuracy = %v, want 90", st.AverageAccuracy)
		}
		all, err := s.Stats(ctx, "")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if all.Casts != 3 || all.BestChain != 4 {
			t.Errorf("all stats = %+v", all)
		}
		rival, err := s.Recent(ctx, "rival", 10)
		if err != nil || len(rival) != 1 || rival[0].ID != "b1" {
			t.Errorf("rival recent = %v, %v", ids(rival), err)
		}
	})

	t.Run("EmptyStats", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		st, err := s.Stats(ctx, "nobody")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st != (journal.Stats{}) {
			t.Errorf("stats = %+v, want zero", st)
		}
	})
}

func ids(es []types.CastEvent) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
