// Package wavfile replays a PCM WAV recording as an [audio.Source]. It is
// used for offline tuning runs (-replay) and end-to-end tests.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/glyphcast/pkg/audio"
)

const defaultFrameDuration = 20 * time.Millisecond

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithFrameDuration sets how much audio each emitted frame carries.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDur = d }
}

// WithRealtime paces frames at wall-clock speed when enabled (the default).
// Disable it to push the whole file as fast as the consumer reads.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// Source replays decoded 16-bit PCM. Create with [Open] or [Decode].
type Source struct {
	name     string
	pcm      []byte
	format   audio.Format
	frameDur time.Duration
	realtime bool

	mu      sync.Mutex
	started bool
	once    sync.Once
	done    chan struct{}
}

// Open decodes the WAV file at path.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.ErrDeviceUnavailable, Device: path, Err: err}
	}
	defer f.Close()
	return Decode(path, f, opts...)
}

// Decode reads a WAV stream from r. name labels the source in errors.
func Decode(name string, r io.ReadSeeker, opts ...Option) (*Source, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, &audio.DeviceError{Kind: audio.ErrDeviceUnavailable, Device: name, Err: errors.New("wavfile: not a valid WAV file")}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: read PCM %q: %w", name, err)
	}
	if buf.SourceBitDepth != 16 {
		return nil, fmt.Errorf("wavfile: %q is %d-bit, only 16-bit PCM is supported", name, buf.SourceBitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	s := &Source{
		name:     name,
		pcm:      audio.Int16ToPCM(samples),
		format:   audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels},
		frameDur: defaultFrameDuration,
		realtime: true,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Format reports the file's sample rate and channel count.
func (s *Source) Format() audio.Format { return s.format }

// Start begins replay. The channel closes after the last frame.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("wavfile: already started")
	}
	s.started = true

	bytesPerFrame := int(s.frameDur.Seconds()*float64(s.format.SampleRate)) * s.format.Channels * 2
	if bytesPerFrame <= 0 {
		bytesPerFrame = 2 * s.format.Channels
	}

	out := make(chan audio.AudioFrame, 16)
	go func() {
		defer close(out)
		var ticker *time.Ticker
		if s.realtime {
			ticker = time.NewTicker(s.frameDur)
			defer ticker.Stop()
		}
		var ts time.Duration
		for off := 0; off < len(s.pcm); off += bytesPerFrame {
			end := min(off+bytesPerFrame, len(s.pcm))
			f := audio.AudioFrame{
				Data:       s.pcm[off:end],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}
			ts += f.Duration()
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops replay.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Encode writes mono float32 samples as a 16-bit PCM WAV file. It is the
// inverse of [Decode] and is used to capture fixtures.
func Encode(w io.WriteSeeker, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, v := range samples {
		v = max(-1, min(1, v))
		data[i] = int(v * 32767)
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: close encoder: %w", err)
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
