// Package mic captures a local microphone through miniaudio (via malgo) and
// exposes it as an [audio.Source].
//
// The miniaudio data callback runs on a native audio thread. It copies each
// captured buffer into a frame and hands it to the consumer without blocking;
// when the consumer falls behind, frames are dropped rather than stalling the
// device.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/glyphcast/pkg/audio"
)

const (
	defaultSampleRate = 48000
	defaultBuffer     = 64
)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz. Defaults to 48000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithDeviceName labels the device in errors and logs. miniaudio always opens
// the system default capture device.
func WithDeviceName(name string) Option {
	return func(s *Source) { s.device = name }
}

// Source is a malgo-backed microphone. Create with [New].
type Source struct {
	sampleRate int
	device     string

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	dev     *malgo.Device
	frames  chan audio.AudioFrame
	started time.Time
	once    sync.Once
	done    chan struct{}
}

// New returns an unstarted microphone source.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate: defaultSampleRate,
		device:     "default",
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format reports mono 16-bit PCM at the configured rate.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.sampleRate, Channels: 1}
}

// Start initialises miniaudio and begins capture. Failures are reported as
// [*audio.DeviceError]; nothing is left running on error.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != nil {
		return nil, errors.New("mic: already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, s.deviceError(err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	frames := make(chan audio.AudioFrame, defaultBuffer)
	s.started = time.Now()
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			data := make([]byte, len(input))
			copy(data, input)
			f := audio.AudioFrame{
				Data:       data,
				SampleRate: s.sampleRate,
				Channels:   1,
				Timestamp:  time.Since(s.started),
			}
			select {
			case <-s.done:
			case frames <- f:
			default:
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, s.deviceError(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, s.deviceError(err)
	}

	s.mctx, s.dev, s.frames = mctx, dev, frames
	slog.Info("mic: capture started", "device", s.device, "sample_rate", s.sampleRate)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return frames, nil
}

// Close stops the device, frees miniaudio and closes the frame channel.
func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dev != nil {
			s.dev.Uninit()
		}
		if s.mctx != nil {
			_ = s.mctx.Uninit()
			s.mctx.Free()
		}
		if s.frames != nil {
			close(s.frames)
		}
	})
	return nil
}

// deviceError classifies a miniaudio failure. miniaudio reports permission
// problems only through backend messages, so those are matched textually.
func (s *Source) deviceError(err error) error {
	kind := audio.ErrDeviceUnavailable
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		kind = audio.ErrPermissionDenied
	}
	return &audio.DeviceError{Kind: kind, Device: s.device, Err: fmt.Errorf("mic: %w", err)}
}

var _ audio.Source = (*Source)(nil)
