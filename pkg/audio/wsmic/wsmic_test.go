package wsmic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphcast/pkg/audio/wsmic"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSource_PCM(t *testing.T) {
	t.Parallel()

	src := wsmic.New(wsmic.WithPCM(16000))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x10, 0x00, 0x20, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case f := <-frames:
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("format = %dHz/%dch", f.SampleRate, f.Channels)
		}
		if len(f.Data) != 4 {
			t.Errorf("data len = %d, want 4", len(f.Data))
		}
	case <-ctx.Done():
		t.Fatal("no frame received")
	}
}

func TestSource_RejectsSecondClient(t *testing.T) {
	t.Parallel()

	src := wsmic.New(wsmic.WithPCM(16000))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)

	first, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	defer first.CloseNow()
	// Make sure the first handler has claimed the stream.
	if err := first.Write(ctx, websocket.MessageBinary, []byte{0, 0}); err != nil {
		t.Fatal(err)
	}

	_, resp, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err == nil {
		t.Fatal("second Dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("second Dial status = %v, want 409", resp)
	}
}

func TestSource_NotStarted(t *testing.T) {
	t.Parallel()

	src := wsmic.New()
	rec := httptest.NewRecorder()
	src.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mic", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
