// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock records every call and hands out a caller-controlled frame
// channel, so tests can push frames, simulate stream loss by closing the
// channel, or simulate device failure via StartErr.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1})
//	frames, _ := src.Start(ctx)
//	src.Push(audio.AudioFrame{...})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphcast/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// StartCallCount and CloseCallCount record invocations.
	StartCallCount int
	CloseCallCount int

	frames chan audio.AudioFrame
	closed bool
}

// NewSource returns a Source with a buffered frame channel.
func NewSource(format audio.Format) *Source {
	return &Source{
		FormatResult: format,
		frames:       make(chan audio.AudioFrame, 64),
	}
}

// Start records the call and returns the frame channel or StartErr.
func (s *Source) Start(_ context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.frames == nil {
		s.frames = make(chan audio.AudioFrame, 64)
	}
	return s.frames, nil
}

// Format returns FormatResult.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Push delivers a frame to the consumer. It is a no-op after Close.
func (s *Source) Push(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.frames == nil {
		return
	}
	s.frames <- f
}

// Close records the call and closes the frame channel once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed && s.frames != nil {
		close(s.frames)
	}
	s.closed = true
	return s.CloseErr
}

var _ audio.Source = (*Source)(nil)
