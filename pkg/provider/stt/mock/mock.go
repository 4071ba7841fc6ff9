// Package mock provides scripted speech engines for tests.
//
// A Provider hands out Sessions; a test drives a Session by sending on its
// channels directly or through [Session.Say] and [Session.Fail]:
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	...
//	sess.Say("incendio", 0.92)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphcast/pkg/provider/stt"
)

// StartStreamCall is one recorded [Provider.StartStream] invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scripted [stt.Provider].
//
// StartStream fails with StartStreamErr when set. Otherwise it pops the next
// entry of Queue, falls back to Session, and finally to a fresh NewSession(16).
type Provider struct {
	mu sync.Mutex

	Session        stt.SessionHandle
	Queue          []stt.SessionHandle
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case len(p.Queue) > 0:
		next := p.Queue[0]
		p.Queue = p.Queue[1:]
		return next, nil
	case p.Session != nil:
		return p.Session, nil
	}
	return NewSession(16), nil
}

// CallCount reports how many streams were requested.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// SetStartStreamErr makes later StartStream calls fail, or succeed again
// when err is nil.
func (p *Provider) SetStartStreamErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamErr = err
}

// SendAudioCall holds a copy of one chunk passed to [Session.SendAudio].
type SendAudioCall struct {
	Chunk []byte
}

// Session is a scripted [stt.SessionHandle]. The test owns PartialsCh and
// FinalsCh; closing FinalsCh ends the stream, and ErrResult is what Err
// reports afterwards.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript
	ErrResult  error

	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	SendAudioCalls []SendAudioCall
	KeywordUpdates [][]stt.KeywordBoost
	CloseCallCount int

	ended bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session whose channels hold buf transcripts each.
func NewSession(buf int) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, buf),
		FinalsCh:   make(chan stt.Transcript, buf),
	}
}

// Say emits a final transcript with the given confidence. It blocks while
// FinalsCh is full.
func (s *Session) Say(text string, confidence float64) {
	s.FinalsCh <- stt.Transcript{Text: text, Confidence: confidence, IsFinal: true}
}

// Fail ends the stream with err, as an engine dying mid-session would. A
// second Fail is ignored.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.ErrResult = err
	close(s.PartialsCh)
	close(s.FinalsCh)
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: append([]byte(nil), chunk...)})
	return s.SendAudioErr
}

// SendAudioCallCount reports how many chunks were sent.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.KeywordUpdates = append(s.KeywordUpdates, append([]stt.KeywordBoost(nil), keywords...))
	return s.SetKeywordsErr
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
