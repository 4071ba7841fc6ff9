package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/glyphcast/internal/app"
	"github.com/MrWong99/glyphcast/internal/config"
	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/pkg/spell"
	"github.com/MrWong99/glyphcast/pkg/types"
)

func newApp(t *testing.T, f *fixture, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithJournal(f.journal),
		app.WithLibrary(spell.Default()),
		app.WithMetrics(f.metrics),
	}
	a, err := app.New(context.Background(), f.cfg, f.providers(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})
	return a
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew_DefaultsToBuiltinLibraryAndMemoryJournal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, err := app.New(context.Background(), f.cfg, f.providers(), app.WithMetrics(f.metrics))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.Library().Len() != spell.Default().Len() {
		t.Errorf("library has %d spells, want the built-in %d", a.Library().Len(), spell.Default().Len())
	}
	if rec := get(t, a.Handler(), "/journal"); rec.Code != http.StatusOK {
		t.Errorf("/journal status = %d, want 200", rec.Code)
	}
}

func TestNew_BadSpellPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Spells.Path = t.TempDir() + "/missing.yaml"
	if _, err := app.New(context.Background(), f.cfg, f.providers(), app.WithMetrics(f.metrics)); err == nil {
		t.Fatal("New() should fail for a missing spell library")
	}
}

func TestApp_ReadyzFollowsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := newApp(t, f)

	if rec := get(t, a.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before start = %d, want 503", rec.Code)
	}
	if err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz after start = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestApp_JournalAndStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := newApp(t, f)
	ctx := context.Background()
	if err := a.Sessions().Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Sessions().SubmitRemote(ctx, types.RemoteCast{Actor: "rival", SpellID: "incendio", Accuracy: 80, Power: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		evs, _ := f.journal.Recent(ctx, "", 10)
		return len(evs) == 1
	})

	rec := get(t, a.Handler(), "/journal?actor=rival&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("/journal status = %d", rec.Code)
	}
	var events []types.CastEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SpellID != "incendio" {
		t.Errorf("events = %+v, want one incendio", events)
	}

	rec = get(t, a.Handler(), "/stats?actor=rival")
	var stats journal.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Casts != 1 || stats.AverageAccuracy != 80 {
		t.Errorf("stats = %+v, want 1 cast at 80", stats)
	}

	if rec := get(t, a.Handler(), "/journal?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestApp_TelemetryAndSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := newApp(t, f)

	if rec := get(t, a.Handler(), "/telemetry"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/telemetry without session = %d, want 503", rec.Code)
	}
	if rec := get(t, a.Handler(), "/session"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/session without session = %d, want 503", rec.Code)
	}
	if err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The first snapshot with actors appears after the first analysis tick.
	waitFor(t, func() bool {
		rec := get(t, a.Handler(), "/telemetry")
		if rec.Code != http.StatusOK {
			return false
		}
		var tel types.Telemetry
		if err := json.NewDecoder(rec.Body).Decode(&tel); err != nil {
			return false
		}
		_, ok := tel.Actors["player"]
		return ok
	})

	rec := get(t, a.Handler(), "/session")
	var info app.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.SessionID == "" || info.Player != "player" {
		t.Errorf("session info = %+v", info)
	}

	reset := httptest.NewRecorder()
	a.Handler().ServeHTTP(reset, httptest.NewRequest(http.MethodPost, "/session/reset", nil))
	if reset.Code != http.StatusNoContent {
		t.Errorf("reset status = %d, want 204", reset.Code)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var level slog.LevelVar
	a := newApp(t, f, app.WithLogLevel(&level))
	if err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	next := *f.cfg
	next.Server.LogLevel = config.LogDebug
	next.Tuning.SilenceTimeoutMS = 300
	a.ApplyConfig(f.cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}

	bad := next
	bad.Tuning.ComboMinAccuracy = ptr(-5.0)
	a.ApplyConfig(&next, &bad)
	if !a.Sessions().IsActive() {
		t.Error("an invalid tuning update must not end the session")
	}
}

func TestApp_RunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a := newApp(t, f, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	waitFor(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
