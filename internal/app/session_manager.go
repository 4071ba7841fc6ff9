package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphcast/internal/caster"
	"github.com/MrWong99/glyphcast/internal/config"
	"github.com/MrWong99/glyphcast/internal/feed"
	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/internal/speech"
	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
	"github.com/MrWong99/glyphcast/pkg/spell"
	"github.com/MrWong99/glyphcast/pkg/types"
)

// ErrNoSession is returned when an operation needs a running session.
var ErrNoSession = errors.New("app: no active session")

const (
	defaultTelemetryInterval = 100 * time.Millisecond
	keywordBoost             = 2.0
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Player    string    `json:"player"`
	StartedAt time.Time `json:"started_at"`
	// Generation is the speech engine generation currently accepted.
	Generation uint64 `json:"generation"`
}

// SessionManager runs at most one casting session at a time. A session owns
// the capture source, the speech supervisor and the caster loop, and fans the
// caster's output out to the journal and the cast feed. All exported methods
// are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	sess   *caster.Session
	sup    *speech.Supervisor
	cancel context.CancelFunc
	done   chan struct{}

	cfg       *config.Config
	providers *Providers
	lib       *spell.Library
	journal   journal.Store
	hub       *feed.Hub
	metrics   *observe.Metrics
	telemetry time.Duration
	casterOpt []caster.Option
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Library   *spell.Library
	Journal   journal.Store
	Hub       *feed.Hub
	Metrics   *observe.Metrics

	// TelemetryInterval is how often a HUD snapshot is pushed to the feed.
	// Defaults to 100ms.
	TelemetryInterval time.Duration

	// CasterOptions are appended to the options every session is built with.
	CasterOptions []caster.Option
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		lib:       cfg.Library,
		journal:   cfg.Journal,
		hub:       cfg.Hub,
		metrics:   cfg.Metrics,
		telemetry: cfg.TelemetryInterval,
		casterOpt: cfg.CasterOptions,
	}
	if sm.telemetry <= 0 {
		sm.telemetry = defaultTelemetryInterval
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// Start opens the capture source and the speech engine and starts a casting
// session. It returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("app: a session is already active (id=%s)", sm.info.SessionID)
	}
	if sm.providers == nil || sm.providers.Audio == nil || sm.providers.STT == nil {
		return errors.New("app: session needs an audio source and a speech engine")
	}

	opts := append([]caster.Option{
		caster.WithTickInterval(sm.cfg.TickInterval()),
		caster.WithBufferSize(sm.cfg.BufferSize()),
		caster.WithPlayer(sm.cfg.Server.Player),
		caster.WithMetrics(sm.metrics),
	}, sm.casterOpt...)
	sess, err := caster.New(sm.lib, sm.cfg.CasterTuning(), opts...)
	if err != nil {
		return fmt.Errorf("app: create session: %w", err)
	}

	// The session context outlives the Start call.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sup, err := speech.NewSupervisor(speech.Config{
		Provider: sm.providers.STT,
		Stream: stt.StreamConfig{
			Language: sm.cfg.Providers.STT.Language,
			Keywords: stt.BoostAll(sm.lib.Keywords(), keywordBoost),
		},
		Name:    sm.cfg.Providers.STT.Name,
		Metrics: sm.metrics,
		OnRestart: func(gen uint64) {
			if err := sess.SetGeneration(sessionCtx, gen); err != nil {
				slog.Debug("app: set generation", "generation", gen, "err", err)
			}
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("app: create speech supervisor: %w", err)
	}

	frames, err := sm.providers.Audio.Start(sessionCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("app: start audio source: %w", err)
	}

	done := make(chan struct{})
	go sm.run(sessionCtx, cancel, done, sess, sup, frames)

	sm.active = true
	sm.sess = sess
	sm.sup = sup
	sm.cancel = cancel
	sm.done = done
	sm.info = SessionInfo{
		SessionID: sess.ID(),
		Player:    sess.Player(),
		StartedAt: time.Now().UTC(),
	}

	slog.Info("session started",
		"session_id", sess.ID(),
		"player", sess.Player(),
		"spells", sm.lib.Len(),
		"stt", sm.cfg.Providers.STT.Name,
		"audio", sm.cfg.Providers.Audio.Name,
	)
	return nil
}

// run drives one session until ctx ends or a component fails for good.
func (sm *SessionManager) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, sess *caster.Session, sup *speech.Supervisor, frames <-chan audio.AudioFrame) {
	defer close(done)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	casterFrames := make(chan audio.AudioFrame, 64)
	transcripts := make(chan stt.Transcript, 16)

	g.Go(func() error {
		defer close(casterFrames)
		return fanOutAudio(gctx, frames, casterFrames, sup)
	})
	g.Go(func() error { return sup.Run(gctx, transcripts) })
	g.Go(func() error { return sess.Run(gctx, casterFrames, transcripts) })
	// The drains end when the session closes Events and Outcomes.
	go sm.drainEvents(context.WithoutCancel(ctx), sess)
	go sm.drainOutcomes(sess)
	g.Go(func() error {
		sm.pushTelemetry(gctx, sess)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("session ended with error", "session_id", sess.ID(), "err", err)
	}
	<-sess.Done()

	sm.mu.Lock()
	if sm.sess == sess {
		sm.active = false
	}
	sm.mu.Unlock()
}

// fanOutAudio copies capture frames to the caster and the speech engine. A
// closed source ends the fan-out without error.
func fanOutAudio(ctx context.Context, in <-chan audio.AudioFrame, out chan<- audio.AudioFrame, sup *speech.Supervisor) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				slog.Info("app: audio source closed")
				return nil
			}
			sup.SendAudio(f)
			select {
			case out <- f:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (sm *SessionManager) drainEvents(ctx context.Context, sess *caster.Session) {
	for ev := range sess.Events() {
		if sm.journal != nil {
			if err := sm.journal.Append(ctx, ev); err != nil {
				slog.Warn("app: journal append failed", "event_id", ev.ID, "err", err)
			}
		}
		if sm.hub != nil {
			sm.hub.PublishCast(ev)
		}
	}
}

func (sm *SessionManager) drainOutcomes(sess *caster.Session) {
	for o := range sess.Outcomes() {
		if o.Rejection != nil && sm.hub != nil {
			sm.hub.PublishRejection(*o.Rejection)
		}
	}
}

func (sm *SessionManager) pushTelemetry(ctx context.Context, sess *caster.Session) {
	if sm.hub == nil {
		return
	}
	t := time.NewTicker(sm.telemetry)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if sm.hub.Clients() > 0 {
				sm.hub.PublishTelemetry(sess.Snapshot())
			}
		}
	}
}

// Stop ends the active session and waits for its goroutines to finish or for
// ctx to expire. It returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if sm.sess == nil {
		sm.mu.Unlock()
		return errors.New("app: no active session to stop")
	}
	sessionID := sm.info.SessionID
	cancel, done := sm.cancel, sm.done
	sm.active = false
	sm.sess = nil
	sm.sup = nil
	sm.cancel = nil
	sm.done = nil
	sm.info = SessionInfo{}
	sm.mu.Unlock()

	cancel()
	if err := sm.providers.Audio.Close(); err != nil {
		slog.Warn("app: audio source close error", "session_id", sessionID, "err", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("app: session did not stop in time", "session_id", sessionID)
		return ctx.Err()
	}
	slog.Info("session stopped", "session_id", sessionID)
	return nil
}

// setConfig replaces the config read by the next Start.
func (sm *SessionManager) setConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := sm.info
	if sm.sup != nil {
		info.Generation = sm.sup.Generation()
	}
	return info
}

func (sm *SessionManager) current() (*caster.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return nil, ErrNoSession
	}
	return sm.sess, nil
}

// Snapshot returns the active session's HUD telemetry.
func (sm *SessionManager) Snapshot() (types.Telemetry, error) {
	sess, err := sm.current()
	if err != nil {
		return types.Telemetry{}, err
	}
	return sess.Snapshot(), nil
}

// SubmitRemote forwards a remote cast to the active session.
func (sm *SessionManager) SubmitRemote(ctx context.Context, rc types.RemoteCast) (caster.Outcome, error) {
	sess, err := sm.current()
	if err != nil {
		return caster.Outcome{}, err
	}
	return sess.SubmitRemote(ctx, rc)
}

// UpdateTuning applies t to the active session. Without one it is a no-op;
// the next session reads the tuning from config.
func (sm *SessionManager) UpdateTuning(ctx context.Context, t caster.Tuning) error {
	sess, err := sm.current()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return sess.UpdateTuning(ctx, t)
}

// Reset clears every actor's cooldowns, chain and mana in the active session.
func (sm *SessionManager) Reset(ctx context.Context) error {
	sess, err := sm.current()
	if err != nil {
		return err
	}
	return sess.Reset(ctx)
}
