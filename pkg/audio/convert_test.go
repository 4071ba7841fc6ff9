package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/glyphcast/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500})
	got := bytesToSamples(audio.ResampleMono16(in, 48000, 16000))
	want := []int16{0, 300}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	back := audio.PCM16ToFloat32(audio.Float32ToPCM16(samples))
	for i := range samples {
		if math.Abs(float64(back[i]-samples[i])) > 1e-3 {
			t.Errorf("sample %d: got %v, want ~%v", i, back[i], samples[i])
		}
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16([]float32{2, -2}))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want clamped [32767 -32768]", got)
	}
}

func TestSpeechConverter(t *testing.T) {
	c := &audio.SpeechConverter{SampleRate: 16000}

	mono := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
	if got := c.Convert(mono); &got.Data[0] != &mono.Data[0] {
		t.Error("matching frame should pass through unchanged")
	}

	stereo48 := audio.AudioFrame{
		Data:       samplesToBytes([]int16{300, 300, 300, 300, 300, 300}),
		SampleRate: 48000,
		Channels:   2,
	}
	got := c.Convert(stereo48)
	if got.Channels != 1 || got.SampleRate != 16000 {
		t.Fatalf("format = %dHz/%dch, want 16000Hz/1ch", got.SampleRate, got.Channels)
	}
	if s := bytesToSamples(got.Data); len(s) != 1 || s[0] != 300 {
		t.Errorf("samples = %v, want [300]", s)
	}

	corrupt := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if corrupt.Data != nil {
		t.Error("odd-length frame should be dropped")
	}
}

func TestAudioFrame_DurationAndSamples(t *testing.T) {
	f := audio.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}
	if got := f.Duration().Milliseconds(); got != 10 {
		t.Errorf("Duration = %dms, want 10ms", got)
	}
	if got := len(f.MonoSamples()); got != 160 {
		t.Errorf("MonoSamples len = %d, want 160", got)
	}

	st := audio.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 2}
	if got := len(st.MonoSamples()); got != 80 {
		t.Errorf("stereo MonoSamples len = %d, want 80", got)
	}
}
