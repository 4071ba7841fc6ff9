package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
)

// Default restart parameters.
const (
	DefaultMaxRetries = 10
	DefaultBackoff    = 1 * time.Second
	DefaultMaxBackoff = 30 * time.Second

	audioQueue = 64
)

// Config configures a [Supervisor].
type Config struct {
	// Provider starts engine streams. Required.
	Provider stt.Provider

	// Stream is passed to every StartStream. SampleRate is the rate audio is
	// converted to before it reaches the engine; it defaults to 16000.
	Stream stt.StreamConfig

	// Name labels logs and the restart metric. Defaults to "stt".
	Name string

	// MaxRetries is how many consecutive failed starts are tolerated before
	// Run gives up. Defaults to 10.
	MaxRetries int

	// Backoff is the first wait after a failure. It doubles per consecutive
	// failure up to MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnRestart is called with the new generation every time a replacement
	// engine comes up. Owners use it to drop transcripts from the dead one.
	OnRestart func(gen uint64)

	// Metrics records restarts. Defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Supervisor keeps a speech engine stream running for one session.
//
// Audio goes in through [Supervisor.SendAudio], which never blocks. Final
// transcripts come out of [Supervisor.Run] stamped with the generation of the
// engine that produced them. Partials are drained and discarded.
type Supervisor struct {
	cfg     Config
	conv    audio.SpeechConverter
	audio   chan []byte
	gen     atomic.Uint64
	dropped atomic.Uint64
	running atomic.Bool
}

// NewSupervisor validates cfg and fills defaults.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Provider == nil {
		return nil, errors.New("speech: supervisor: provider is required")
	}
	if cfg.Stream.SampleRate <= 0 {
		cfg.Stream.SampleRate = 16000
	}
	cfg.Stream.Channels = 1
	if cfg.Name == "" {
		cfg.Name = "stt"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Supervisor{
		cfg:   cfg,
		conv:  audio.SpeechConverter{SampleRate: cfg.Stream.SampleRate},
		audio: make(chan []byte, audioQueue),
	}, nil
}

// Generation returns the generation of the current engine, 0 before the
// first start.
func (s *Supervisor) Generation() uint64 { return s.gen.Load() }

// Dropped returns how many audio frames were discarded because the engine
// was not keeping up or not running.
func (s *Supervisor) Dropped() uint64 { return s.dropped.Load() }

// SendAudio converts frame to the engine format and queues it. When the
// queue is full the frame is dropped.
func (s *Supervisor) SendAudio(frame audio.AudioFrame) {
	f := s.conv.Convert(frame)
	if len(f.Data) == 0 {
		return
	}
	select {
	case s.audio <- f.Data:
	default:
		s.dropped.Add(1)
	}
}

// Run starts the engine and keeps it running until ctx is cancelled, which
// returns nil. A stream that ends cleanly is restarted at once; a failed
// start or a stream that dies with an error is restarted after backoff.
// After MaxRetries consecutive failures Run returns an error wrapping
// [stt.ErrEngineFailed]. Run does not close out. Run may be called once.
func (s *Supervisor) Run(ctx context.Context, out chan<- stt.Transcript) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("speech: supervisor already running")
	}

	backoff := s.cfg.Backoff
	failures := 0
	for {
		h, err := s.cfg.Provider.StartStream(ctx, s.cfg.Stream)
		if err == nil {
			gen := s.gen.Add(1)
			if gen > 1 {
				slog.Warn("speech: engine restarted", "engine", s.cfg.Name, "generation", gen)
				s.cfg.Metrics.RecordSTTRestart(ctx, s.cfg.Name)
				if s.cfg.OnRestart != nil {
					s.cfg.OnRestart(gen)
				}
			} else {
				slog.Info("speech: engine started", "engine", s.cfg.Name, "sample_rate", s.cfg.Stream.SampleRate)
			}
			started := time.Now()
			err = s.pump(ctx, h, gen, out)
			if cerr := h.Close(); cerr != nil {
				slog.Debug("speech: closing engine stream", "engine", s.cfg.Name, "err", cerr)
			}
			if ctx.Err() != nil {
				return nil
			}
			lived := time.Since(started) >= s.cfg.Backoff
			if lived {
				failures = 0
				backoff = s.cfg.Backoff
			}
			if err == nil {
				if lived {
					slog.Debug("speech: engine stream ended, restarting", "engine", s.cfg.Name)
					continue
				}
				err = errors.New("stream ended immediately")
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if failures > s.cfg.MaxRetries {
			slog.Error("speech: engine gave up", "engine", s.cfg.Name, "attempts", failures, "err", err)
			return fmt.Errorf("speech: %s failed %d times: %w", s.cfg.Name, failures, errors.Join(stt.ErrEngineFailed, err))
		}
		slog.Warn("speech: engine failed",
			"engine", s.cfg.Name,
			"attempt", failures,
			"max_retries", s.cfg.MaxRetries,
			"backoff", backoff,
			"err", err,
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// pump runs one engine stream until its finals channel closes or ctx ends.
// It returns the stream's Err once finals close.
func (s *Supervisor) pump(ctx context.Context, h stt.SessionHandle, gen uint64, out chan<- stt.Transcript) error {
	partials := h.Partials()
	finals := h.Finals()
	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk := <-s.audio:
			if err := h.SendAudio(chunk); err != nil {
				slog.Debug("speech: send audio", "engine", s.cfg.Name, "err", err)
			}

		case _, ok := <-partials:
			if !ok {
				partials = nil
			}

		case t, ok := <-finals:
			if !ok {
				return h.Err()
			}
			t.IsFinal = true
			t.Generation = gen
			if t.Timestamp.IsZero() {
				t.Timestamp = time.Now()
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
