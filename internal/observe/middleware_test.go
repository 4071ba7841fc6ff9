package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newHarness swaps the global tracer provider for an in-memory one. Tests
// using it must not run in parallel.
func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	return &harness{metrics: m, reader: reader, spans: spans}
}

func (h *harness) durationPoints(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "glyphcast.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_JournalRequest(t *testing.T) {
	h := newHarness(t)

	var seen string
	handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.Write([]byte("[]"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/journal?limit=5", nil))

	if len(seen) != 32 {
		t.Fatalf("handler saw correlation id %q, want a 32 char trace id", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response is missing the traceparent header")
	}

	spans := h.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /journal" {
		t.Fatalf("spans = %v, want one named HTTP GET /journal", spans)
	}

	points := h.durationPoints(t)
	if len(points) != 1 || points[0].Count != 1 {
		t.Fatalf("duration points = %+v, want one sample", points)
	}
	path, _ := points[0].Attributes.Value("path")
	method, _ := points[0].Attributes.Value("method")
	if path.AsString() != "/journal" || method.AsString() != http.MethodGet {
		t.Errorf("attributes = %v, want GET /journal", points[0].Attributes.ToSlice())
	}
}

func TestMiddleware_ErrorStatusOnSpan(t *testing.T) {
	h := newHarness(t)

	handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no active session", http.StatusServiceUnavailable)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	spans := h.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			if a.Value.AsInt64() != http.StatusServiceUnavailable {
				t.Errorf("span status code = %d, want 503", a.Value.AsInt64())
			}
			return
		}
	}
	t.Error("span has no http.response.status_code attribute")
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h := newHarness(t)
	const traceID = "0af7651916cd43dd8448eb211c80319c"

	var seen string
	handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/session/reset", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("correlation id = %q, want the caller's trace %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	h := newHarness(t)

	handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/feed", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("read err = %v, want a normal closure", err)
	}
	conn.CloseNow()

	// The span ends once the handler returns after the close handshake.
	deadline := time.Now().Add(3 * time.Second)
	for len(h.spans.GetSpans()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no span recorded for the upgrade")
		}
		time.Sleep(5 * time.Millisecond)
	}
	spans := h.spans.GetSpans()
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == http.StatusSwitchingProtocols {
			return
		}
	}
	t.Errorf("span attributes = %v, want status 101", spans[0].Attributes)
}
