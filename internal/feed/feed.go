// Package feed broadcasts cast events, rejections and HUD telemetry to
// WebSocket subscribers, and accepts remote casts from networked opponents
// over the same connection.
//
// Every client owns a bounded outbound queue. A client whose queue is full
// when a message is published is disconnected; the hub never blocks on a slow
// reader.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/glyphcast/internal/caster"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/pkg/types"
)

// Message types.
const (
	TypeCast      = "cast"
	TypeRejection = "rejection"
	TypeTelemetry = "telemetry"
	TypeError     = "error"
)

const (
	defaultClientBuffer = 64
	writeTimeout        = 5 * time.Second
)

// Message is the JSON envelope sent to subscribers. Exactly one payload field
// is set, matching Type.
type Message struct {
	Type      string           `json:"type"`
	Cast      *types.CastEvent `json:"cast,omitempty"`
	Rejection *types.Rejection `json:"rejection,omitempty"`
	Telemetry *types.Telemetry `json:"telemetry,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Inbound is a message sent by a subscriber. Only Type "cast" is understood.
type Inbound struct {
	Type string           `json:"type"`
	Cast types.RemoteCast `json:"cast"`
}

// Submitter accepts remote casts. [caster.Session] implements it.
type Submitter interface {
	SubmitRemote(ctx context.Context, rc types.RemoteCast) (caster.Outcome, error)
}

type client struct {
	out  chan Message
	gone chan struct{}
	once sync.Once
}

func (c *client) kick() { c.once.Do(func() { close(c.gone) }) }

// Hub fans messages out to connected clients. The zero value is not usable;
// create one with [NewHub].
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	metrics *observe.Metrics
	dropped int
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientBuffer sets the per-client queue length. Default: 64.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		buffer:  defaultClientBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() *client {
	c := &client{out: make(chan Message, h.buffer), gone: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.FeedClients.Add(context.Background(), 1)
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.FeedClients.Add(context.Background(), -1)
	}
	c.kick()
}

// Publish queues msg for every client without blocking.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
			h.dropped++
			c.kick()
		}
	}
}

// PublishCast broadcasts an accepted cast.
func (h *Hub) PublishCast(ev types.CastEvent) {
	h.Publish(Message{Type: TypeCast, Cast: &ev})
}

// PublishRejection broadcasts a failed cast attempt.
func (h *Hub) PublishRejection(r types.Rejection) {
	h.Publish(Message{Type: TypeRejection, Rejection: &r})
}

// PublishTelemetry broadcasts a HUD snapshot.
func (h *Hub) PublishTelemetry(t types.Telemetry) {
	h.Publish(Message{Type: TypeTelemetry, Telemetry: &t})
}

// Handler is the /feed WebSocket endpoint.
type Handler struct {
	hub     *Hub
	submit  Submitter
	origins []string
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithSubmitter routes inbound remote casts to s. Without one, inbound casts
// are answered with an error message.
func WithSubmitter(s Submitter) HandlerOption {
	return func(h *Handler) { h.submit = s }
}

// WithOriginPatterns sets the accepted cross-origin host patterns.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.origins = patterns }
}

// NewHandler returns a WebSocket handler subscribing clients to hub.
func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{hub: hub}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request, subscribes the client and serves it until
// either side disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("feed: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := h.hub.subscribe()
	defer h.hub.unsubscribe(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Only this goroutine writes; the reader hands replies over on reply.
	reply := make(chan Message, 8)
	readErr := make(chan error, 1)
	go func() { readErr <- h.read(ctx, conn, reply) }()

	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if err != nil {
				slog.Info("feed: client read ended", "error", err)
				conn.Close(websocket.StatusInternalError, "read error")
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-c.gone:
			conn.Close(websocket.StatusPolicyViolation, "too slow")
			return
		case msg = <-c.out:
		case msg = <-reply:
		}
		if err := write(ctx, conn, msg); err != nil {
			slog.Info("feed: client write failed", "error", err)
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// read handles inbound messages until the connection closes. A normal close
// or a cancelled context returns nil.
func (h *Handler) read(ctx context.Context, conn *websocket.Conn, reply chan<- Message) error {
	for {
		var in Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		msg, ok := h.handle(ctx, in)
		if !ok {
			continue
		}
		select {
		case reply <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle processes one inbound message. Only errors are answered directly;
// the cast or rejection itself reaches every client, this one included,
// through the hub.
func (h *Handler) handle(ctx context.Context, in Inbound) (Message, bool) {
	if in.Type != TypeCast {
		return Message{Type: TypeError, Error: fmt.Sprintf("unsupported message type %q", in.Type)}, true
	}
	if h.submit == nil {
		return Message{Type: TypeError, Error: "remote casts are disabled"}, true
	}
	if _, err := h.submit.SubmitRemote(ctx, in.Cast); err != nil {
		return Message{Type: TypeError, Error: err.Error()}, true
	}
	return Message{}, false
}
