// Package whisper provides a local speech engine backed by the whisper.cpp Go
// bindings (CGO). The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp is a batch engine, so each session buffers PCM, segments it
// with an energy-based silence detector and runs one inference per committed
// utterance. Every inference yields a partial and a final with the same text.
// Spell keywords are passed to the model as an initial prompt, which biases
// decoding toward incantations.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/glyphcast/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// defaultRMSThreshold is the float RMS (full scale 1.0) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 0.01
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the audio sample rate in Hz. whisper.cpp models expect
// 16000. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// commits the buffered utterance for inference. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced flush. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider using whisper.cpp. The model is loaded
// once and shared by all sessions; each inference gets its own context.
type Provider struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session. Zero fields in cfg fall back
// to the provider defaults.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}

	prompt := keywordPrompt(cfg.Keywords)
	infer := func(samples []float32) (string, float64, error) {
		return p.infer(samples, lang, prompt)
	}
	return newSession(ctx, infer, sessionConfig{
		sampleRate:          sr,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
	}), nil
}

// infer runs whisper.cpp over mono samples using a fresh context and returns
// the joined text plus the mean token probability as confidence.
func (p *Provider) infer(samples []float32, lang, prompt string) (string, float64, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", 0, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", 0, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		sumP   float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			sumP += float64(tok.P)
			tokens++
		}
	}

	conf := 0.0
	if tokens > 0 {
		conf = sumP / float64(tokens)
	}
	return strings.Join(parts, " "), conf, nil
}

// keywordPrompt renders keyword boosts as an initial prompt. whisper.cpp has
// no boost weights, so boosts only decide inclusion.
func keywordPrompt(kws []stt.KeywordBoost) string {
	words := make([]string, 0, len(kws))
	for _, k := range kws {
		if k.Boost > 0 && k.Keyword != "" {
			words = append(words, k.Keyword)
		}
	}
	if len(words) == 0 {
		return ""
	}
	return "Spells: " + strings.Join(words, ", ") + "."
}
