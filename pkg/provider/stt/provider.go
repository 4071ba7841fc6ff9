// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or a
// local whisper.cpp model) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits two streams of Transcript values: low-latency
// partials and authoritative finals. The casting pipeline only evaluates
// finals.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrEngineFailed marks a recoverable speech-engine failure (network
	// error, aborted stream). Owners restart the engine; actor progress is
	// unaffected.
	ErrEngineFailed = errors.New("stt: speech engine failed")

	// ErrNotSupported is returned by optional operations a provider lacks.
	ErrNotSupported = errors.New("stt: operation not supported")
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (STT-optimised
	// mono), 48000 (browser Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for incantations such as "Wingardium".
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits interim Transcript values.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values. The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended. It returns nil while the session is
	// live or after a clean Close, and an error wrapping ErrEngineFailed when
	// the engine died underneath the caller.
	Err() error

	// SetKeywords replaces the active keyword boost list without restarting the
	// session. Providers that do not support mid-session keyword updates
	// return ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session and releases all associated resources.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. Connection failures
	// are wrapped in ErrEngineFailed.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
