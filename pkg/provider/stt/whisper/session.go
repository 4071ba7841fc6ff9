package whisper

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
)

// inferFunc transcribes mono float32 samples, returning text and confidence.
type inferFunc func(samples []float32) (string, float64, error)

type sessionConfig struct {
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

// session is a live whisper transcription session. All buffering state is
// confined to the processLoop goroutine.
type session struct {
	cfg   sessionConfig
	infer inferFunc

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newSession(ctx context.Context, infer inferFunc, cfg sessionConfig) *session {
	s := &session{
		cfg:      cfg,
		infer:    infer,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// SendAudio queues a chunk of 16-bit little-endian mono PCM.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err is always nil: inference failures are logged per utterance and never
// end the session.
func (s *session) Err() error { return nil }

// SetKeywords is unsupported; keywords are fixed in the initial prompt.
func (s *session) SetKeywords(_ []stt.KeywordBoost) error {
	return stt.ErrNotSupported
}

// Close flushes any pending speech, then closes both channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []float32
		hadSpeech bool
		silenceMs int
	)
	maxSamples := s.cfg.maxBufferDurationMs * s.cfg.sampleRate / 1000

	flush := func() {
		samples, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(samples) == 0 || !speech {
			return
		}
		text, conf, err := s.infer(samples)
		if err != nil {
			slog.Error("whisper inference failed", "error", err)
			return
		}
		if text == "" {
			return
		}
		now := time.Now()
		select {
		case s.partials <- stt.Transcript{Text: text, Confidence: conf, Timestamp: now}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: conf, Timestamp: now}:
		default:
			slog.Warn("whisper: finals channel full, dropping transcript")
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-s.done:
			flush()
			return
		case chunk := <-s.audioCh:
			samples := audio.PCM16ToFloat32(chunk)
			chunkMs := len(samples) * 1000 / max(s.cfg.sampleRate, 1)
			if rms(samples) < s.cfg.rmsThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, samples...)
					if silenceMs >= s.cfg.silenceThresholdMs {
						flush()
					}
				}
				continue
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, samples...)
			if maxSamples > 0 && len(buffer) >= maxSamples {
				flush()
			}
		}
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

var _ stt.SessionHandle = (*session)(nil)
