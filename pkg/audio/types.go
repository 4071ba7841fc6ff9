// Package audio defines the audio transport types of the casting pipeline and
// the [Source] abstraction over capture devices.
//
// Capture adapters live in sub-packages (audio/malgo for a local microphone,
// audio/wavfile for replaying recordings, audio/wsmic for a browser
// microphone streamed over WebSocket). The core never acquires devices itself;
// it only consumes the frame channel a Source hands out.
package audio

import "time"

// AudioFrame is one chunk of captured audio. Frames are transient: produced by
// a [Source], folded into the analysis ring buffer on the next tick and then
// dropped.
type AudioFrame struct {
	// Data is little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono. Analysis downmixes anything else.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns how much audio the frame holds.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// MonoSamples decodes the frame to float32 mono samples in [-1, 1].
func (f AudioFrame) MonoSamples() []float32 {
	pcm := f.Data
	if f.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	return PCM16ToFloat32(pcm)
}
