package feed_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/glyphcast/internal/caster"
	"github.com/MrWong99/glyphcast/internal/feed"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/pkg/types"
)

func newHub(t *testing.T, opts ...feed.HubOption) *feed.Hub {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return feed.NewHub(append([]feed.HubOption{feed.WithMetrics(met)}, opts...)...)
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []types.RemoteCast
	err   error
}

func (f *fakeSubmitter) SubmitRemote(_ context.Context, rc types.RemoteCast) (caster.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rc)
	if f.err != nil {
		return caster.Outcome{}, f.err
	}
	return caster.Outcome{Event: &types.CastEvent{Actor: rc.Actor, SpellID: rc.SpellID}}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dial(t *testing.T, ctx context.Context, h *feed.Handler, hub *feed.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	waitFor(t, func() bool { return hub.Clients() == 1 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_BroadcastsCast(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub), hub)

	hub.PublishCast(types.CastEvent{ID: "c1", Actor: "player", SpellID: "fireball", Damage: 24})

	var msg feed.Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msg.Type != feed.TypeCast || msg.Cast == nil {
		t.Fatalf("msg = %+v, want cast", msg)
	}
	if msg.Cast.SpellID != "fireball" || msg.Cast.Damage != 24 {
		t.Errorf("cast = %+v", msg.Cast)
	}
}

func TestHandler_BroadcastsTelemetryAndRejection(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub), hub)

	hub.PublishTelemetry(types.Telemetry{Loudness: 0.5, Speaking: true})
	hub.PublishRejection(types.Rejection{Actor: "player", Reason: types.ReasonGlobalCooldown})

	var first, second feed.Message
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatal(err)
	}
	if first.Type != feed.TypeTelemetry || first.Telemetry == nil || !first.Telemetry.Speaking {
		t.Errorf("first = %+v, want telemetry", first)
	}
	if second.Type != feed.TypeRejection || second.Rejection == nil || second.Rejection.Reason != types.ReasonGlobalCooldown {
		t.Errorf("second = %+v, want cooldown rejection", second)
	}
}

func TestHandler_RoutesRemoteCast(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	sub := &fakeSubmitter{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub, feed.WithSubmitter(sub)), hub)

	in := feed.Inbound{Type: feed.TypeCast, Cast: types.RemoteCast{Actor: "rival", SpellID: "frost", Accuracy: 90, Power: 1}}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, func() bool { return sub.count() == 1 })

	sub.mu.Lock()
	got := sub.calls[0]
	sub.mu.Unlock()
	if got.Actor != "rival" || got.SpellID != "frost" {
		t.Errorf("submitted = %+v", got)
	}
}

func TestHandler_ReportsSubmitError(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	sub := &fakeSubmitter{err: errors.New("caster: remote cast without actor")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub, feed.WithSubmitter(sub)), hub)

	if err := wsjson.Write(ctx, conn, feed.Inbound{Type: feed.TypeCast}); err != nil {
		t.Fatal(err)
	}
	var msg feed.Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != feed.TypeError || !strings.Contains(msg.Error, "without actor") {
		t.Errorf("msg = %+v, want error", msg)
	}
}

func TestHandler_UnknownTypeAndNoSubmitter(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub), hub)

	for _, in := range []feed.Inbound{{Type: "ping"}, {Type: feed.TypeCast}} {
		if err := wsjson.Write(ctx, conn, in); err != nil {
			t.Fatal(err)
		}
		var msg feed.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != feed.TypeError || msg.Error == "" {
			t.Errorf("reply to %q = %+v, want error", in.Type, msg)
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	t.Parallel()

	hub := newHub(t, feed.WithClientBuffer(1))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, feed.NewHandler(hub), hub)

	// The client never reads, so its queue fills and it gets disconnected.
	for range 1000 {
		hub.PublishTelemetry(types.Telemetry{})
	}
	waitFor(t, func() bool { return hub.Clients() == 0 })
	if hub.Dropped() == 0 {
		t.Error("Dropped() = 0, want at least one")
	}
	_ = conn
}

func TestHub_PublishWithoutClients(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	hub.PublishCast(types.CastEvent{ID: "c1"})
	if hub.Clients() != 0 || hub.Dropped() != 0 {
		t.Errorf("clients=%d dropped=%d, want 0/0", hub.Clients(), hub.Dropped())
	}
}
