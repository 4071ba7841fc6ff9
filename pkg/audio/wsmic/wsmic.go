// Package wsmic receives a browser microphone over WebSocket and exposes it as
// an [audio.Source].
//
// The browser sends one binary message per 20 ms Opus packet (48 kHz mono).
// Clients that cannot encode Opus may instead send raw little-endian 16-bit
// PCM when the source is created with [WithPCM]. Only one client may stream
// at a time; a second connection is refused with 409 Conflict.
package wsmic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrWong99/glyphcast/pkg/audio"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1
	// opusFrameSize is the number of samples per 20 ms packet.
	opusFrameSize = opusSampleRate * 20 / 1000
)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithPCM switches the wire codec to raw 16-bit mono PCM at rate Hz.
func WithPCM(rate int) Option {
	return func(s *Source) {
		s.pcm = true
		s.sampleRate = rate
	}
}

// WithOriginPatterns sets the accepted cross-origin host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Source) { s.origins = patterns }
}

// Source is both an [audio.Source] and the [http.Handler] browsers connect to.
type Source struct {
	pcm        bool
	sampleRate int
	origins    []string

	mu      sync.Mutex
	frames  chan audio.AudioFrame
	closed  bool // frames has been closed
	busy    bool
	started time.Time
	once    sync.Once
	done    chan struct{}
}

// New returns a Source expecting Opus packets unless configured otherwise.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate: opusSampleRate,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format reports mono PCM at the wire sample rate.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.sampleRate, Channels: 1}
}

// Start returns the frame channel. Frames flow once a browser connects.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != nil {
		return nil, errors.New("wsmic: already started")
	}
	s.frames = make(chan audio.AudioFrame, 64)
	s.started = time.Now()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s.frames, nil
}

// Close closes the frame channel and rejects further connections.
func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.busy {
			s.closeFramesLocked()
		}
	})
	return nil
}

func (s *Source) closeFramesLocked() {
	if s.frames != nil && !s.closed {
		close(s.frames)
		s.closed = true
	}
}

// ServeHTTP upgrades the request and streams decoded frames until the client
// disconnects.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch {
	case s.frames == nil:
		s.mu.Unlock()
		http.Error(w, "microphone stream not started", http.StatusServiceUnavailable)
		return
	case s.busy:
		s.mu.Unlock()
		http.Error(w, "another microphone is already streaming", http.StatusConflict)
		return
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		http.Error(w, "microphone stream closed", http.StatusGone)
		return
	default:
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		select {
		case <-s.done:
			s.closeFramesLocked()
		default:
		}
		s.mu.Unlock()
	}()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("wsmic: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	if err := s.stream(r.Context(), conn); err != nil {
		slog.Info("wsmic: client stream ended", "error", err)
		conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Source) stream(ctx context.Context, conn *websocket.Conn) error {
	var dec *gopus.Decoder
	if !s.pcm {
		var err error
		dec, err = gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return fmt.Errorf("wsmic: create opus decoder: %w", err)
		}
	}
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wsmic: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}
		data, err := s.decode(dec, msg)
		if err != nil {
			slog.Debug("wsmic: dropping undecodable packet", "error", err)
			continue
		}
		f := audio.AudioFrame{
			Data:       data,
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  time.Since(s.started),
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return nil
		default:
			// Consumer is behind; drop rather than back-pressure the browser.
		}
	}
}

func (s *Source) decode(dec *gopus.Decoder, msg []byte) ([]byte, error) {
	if dec == nil {
		if len(msg)%2 != 0 {
			return nil, errors.New("odd-length PCM packet")
		}
		out := make([]byte, len(msg))
		copy(out, msg)
		return out, nil
	}
	pcm, err := dec.Decode(msg, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return audio.Int16ToPCM(pcm), nil
}

var (
	_ audio.Source = (*Source)(nil)
	_ http.Handler = (*Source)(nil)
)
