// Package caster runs one casting session: it owns every piece of mutable
// casting state and drives it from a single goroutine.
//
// [Session.Run] multiplexes three inputs: audio frames from the capture
// source, transcripts from the speech engine, and a periodic analysis tick.
// Each tick extracts loudness and pitch, advances the voice segmenter and,
// when a phrase ends with a transcript, runs spell matching, the actor's cast
// gate and mana pool, and the combo resolver. Accepted casts are published on
// [Session.Events]; every attempt, accepted or not, is published on
// [Session.Outcomes].
//
// Other goroutines interact with a running session only through methods that
// enqueue work onto the loop ([Session.SubmitRemote], [Session.UpdateTuning],
// [Session.DiscardPending], [Session.SetGeneration], [Session.Reset]) or read
// the published telemetry ([Session.Snapshot]). No casting state is ever
// touched from two goroutines.
package caster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/glyphcast/internal/combo"
	"github.com/MrWong99/glyphcast/internal/feature"
	"github.com/MrWong99/glyphcast/internal/gate"
	"github.com/MrWong99/glyphcast/internal/mana"
	"github.com/MrWong99/glyphcast/internal/match"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/internal/segment"
	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
	"github.com/MrWong99/glyphcast/pkg/spell"
	"github.com/MrWong99/glyphcast/pkg/types"
)

// ErrSessionClosed is returned by operations on a session whose loop has
// exited.
var ErrSessionClosed = errors.New("caster: session closed")

const (
	DefaultTickInterval = 16 * time.Millisecond
	DefaultBufferSize   = 2048
	DefaultPlayer       = "player"

	// staleAudio is how long the loop keeps analysing the last buffer after
	// frames stop arriving. Beyond it the buffer is treated as silence.
	staleAudio = 250 * time.Millisecond

	defaultEventBuffer = 64
)

// Outcome is the result of one cast attempt.
type Outcome struct {
	// Event is set when the attempt became a cast.
	Event *types.CastEvent
	// Rejection is set otherwise.
	Rejection *types.Rejection
}

// Accepted reports whether the attempt became a cast.
func (o Outcome) Accepted() bool { return o.Event != nil }

// Reason returns the rejection code, or "" for an accepted cast.
func (o Outcome) Reason() types.RejectReason {
	if o.Rejection == nil {
		return ""
	}
	return o.Rejection.Reason
}

// Option is a functional option for [New].
type Option func(*Session)

// WithClock replaces the wall clock. Tests use it with [WithTicks] to drive
// the loop deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.clock = now }
}

// WithTicks supplies the analysis tick source instead of an internal ticker.
// Tick values are ignored; the session clock provides the time.
func WithTicks(ticks <-chan time.Time) Option {
	return func(s *Session) { s.ticks = ticks }
}

// WithTickInterval sets the internal ticker period. Default: 16ms.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// WithBufferSize sets the analysis window length in samples. Default: 2048.
func WithBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithPlayer sets the actor id of the local speaker. Default: "player".
func WithPlayer(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.player = id
		}
	}
}

// WithSessionID sets the id stamped on every event. Default: a new UUID.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEventBuffer sets the capacity of the Events and Outcomes channels.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// actor is the per-actor casting state.
type actor struct {
	kind  types.ActorKind
	gate  *gate.Gate
	combo *combo.Resolver
	mana  *mana.Pool
}

// Session is one casting session. Create it with [New] and start it with
// [Session.Run]; a session runs at most once.
type Session struct {
	id     string
	player string
	lib    *spell.Library

	matcher   *match.Matcher
	extractor *feature.Extractor
	segmenter *segment.Segmenter
	ring      *audio.Ring
	scratch   []float32

	sampleRate  int
	lastFrameAt time.Time
	tuning      Tuning
	actors      map[string]*actor
	minGen      uint64
	last        feature.Features

	clock       func() time.Time
	ticks       <-chan time.Time
	tickEvery   time.Duration
	bufferSize  int
	eventBuffer int
	metrics     *observe.Metrics

	events   chan types.CastEvent
	outcomes chan Outcome
	cmds     chan func(context.Context)
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	telemetry atomic.Pointer[types.Telemetry]
}

// New builds a session over lib with the given tuning.
func New(lib *spell.Library, t Tuning, opts ...Option) (*Session, error) {
	if lib == nil || lib.Len() == 0 {
		return nil, errors.New("caster: spell library is empty")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("caster: invalid tuning: %w", err)
	}
	s := &Session{
		id:          uuid.NewString(),
		player:      DefaultPlayer,
		lib:         lib,
		tuning:      t,
		actors:      make(map[string]*actor),
		clock:       time.Now,
		tickEvery:   DefaultTickInterval,
		bufferSize:  DefaultBufferSize,
		eventBuffer: defaultEventBuffer,
		cmds:        make(chan func(context.Context)),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.matcher = match.New(lib, match.WithParams(t.Match))
	s.extractor = feature.NewExtractor(t.Feature)
	s.segmenter = segment.New(t.Segment, s.extractor)
	s.ring = audio.NewRing(s.bufferSize)
	s.scratch = make([]float32, 0, s.bufferSize)
	s.events = make(chan types.CastEvent, s.eventBuffer)
	s.outcomes = make(chan Outcome, s.eventBuffer)
	s.actorFor(s.player, types.ActorPlayer)
	s.telemetry.Store(&types.Telemetry{Actors: map[string]types.ActorStatus{}})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Player returns the local speaker's actor id.
func (s *Session) Player() string { return s.player }

// Library returns the spell library the session matches against.
func (s *Session) Library() *spell.Library { return s.lib }

// Events returns accepted casts in acceptance order. The channel is closed
// when Run returns.
func (s *Session) Events() <-chan types.CastEvent { return s.events }

// Outcomes returns every attempt. Outcomes are dropped when the channel is
// full; it exists for hints and telemetry. Closed when Run returns.
func (s *Session) Outcomes() <-chan Outcome { return s.outcomes }

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the telemetry published by the most recent tick. It never
// blocks and has no effect on session state.
func (s *Session) Snapshot() types.Telemetry {
	return *s.telemetry.Load()
}

// Run drives the session until ctx is cancelled. Frames and transcripts may
// be nil or closed; a closed input is simply no longer read. On return any
// pending transcript is discarded and Events and Outcomes are closed.
func (s *Session) Run(ctx context.Context, frames <-chan audio.AudioFrame, transcripts <-chan stt.Transcript) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("caster: session already started")
	}
	defer s.stop()

	ticks := s.ticks
	if ticks == nil {
		ticker := time.NewTicker(s.tickEvery)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	observe.Logger(ctx).Info("casting session started",
		"session_id", s.id, "player", s.player, "spells", s.lib.Len())

	for {
		select {
		case <-ctx.Done():
			observe.Logger(ctx).Info("casting session stopped", "session_id", s.id)
			return nil

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.ingest(f)

		case tr, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			s.onTranscript(ctx, tr)

		case <-ticks:
			s.tick(ctx, s.clock())

		case fn := <-s.cmds:
			fn(ctx)
		}
	}
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.segmenter.Reset()
		s.ring.Reset()
		close(s.done)
		close(s.events)
		close(s.outcomes)
	})
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	wrapped := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateTuning applies t to the running session. Per-actor state is kept.
func (s *Session) UpdateTuning(ctx context.Context, t Tuning) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("caster: invalid tuning: %w", err)
	}
	return s.do(ctx, func(context.Context) {
		s.tuning = t
		s.matcher.SetParams(t.Match)
		s.extractor.SetParams(t.Feature)
		s.segmenter.SetParams(t.Segment)
		now := s.clock()
		for _, a := range s.actors {
			a.gate.SetParams(t.Gate)
			a.combo.SetParams(t.Combo)
			a.mana.Configure(t.Mana.Max, t.Mana.RegenPerSecond, now)
		}
	})
}

// DiscardPending drops the retained transcript and any phrase waiting for a
// late one.
func (s *Session) DiscardPending(ctx context.Context) error {
	return s.do(ctx, func(context.Context) { s.segmenter.DiscardPending() })
}

// SetGeneration tells the session that the speech engine restarted as
// generation gen. Pending transcripts are discarded and transcripts from
// older generations are ignored from now on.
func (s *Session) SetGeneration(ctx context.Context, gen uint64) error {
	return s.do(ctx, func(context.Context) {
		if gen > s.minGen {
			s.minGen = gen
		}
		s.segmenter.DiscardPending()
	})
}

// Reset returns every actor and the segmenter to their initial state.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func(context.Context) {
		s.segmenter.Reset()
		for _, a := range s.actors {
			a.gate.Reset()
			a.combo.Reset()
			a.mana.Reset()
		}
	})
}

// SubmitRemote routes a cast reported by another actor through that actor's
// own gate, mana pool and combo chain. Rejections are returned as an Outcome,
// not an error.
func (s *Session) SubmitRemote(ctx context.Context, rc types.RemoteCast) (Outcome, error) {
	if rc.Actor == "" {
		return Outcome{}, errors.New("caster: remote cast without actor")
	}
	if rc.Actor == s.player {
		return Outcome{}, fmt.Errorf("caster: remote cast uses the local player id %q", rc.Actor)
	}
	var out Outcome
	err := s.do(ctx, func(loopCtx context.Context) {
		out = s.remote(loopCtx, rc)
	})
	return out, err
}

func (s *Session) remote(ctx context.Context, rc types.RemoteCast) Outcome {
	now := s.clock()
	kind := rc.ActorKind
	if kind == "" {
		kind = types.ActorRemote
	}
	def, err := s.lib.ByID(rc.SpellID)
	if err != nil {
		return s.reject(ctx, types.Rejection{
			Actor: rc.Actor, Reason: types.ReasonUnknownSpell, SpellID: rc.SpellID, Timestamp: now,
		})
	}
	acc := max(0, min(100, rc.Accuracy))
	power := max(match.MinPower, min(match.MaxPower, rc.Power))
	return s.admit(ctx, now, attempt{
		actor:      rc.Actor,
		kind:       kind,
		def:        def,
		label:      def.Label(s.tuning.Match.PreferDisplay),
		accuracy:   acc,
		confidence: 1,
		power:      power,
	})
}

// ingest appends a frame's samples to the analysis window.
func (s *Session) ingest(f audio.AudioFrame) {
	if f.SampleRate <= 0 || len(f.Data) == 0 {
		return
	}
	if f.SampleRate != s.sampleRate {
		s.sampleRate = f.SampleRate
		s.ring.Reset()
	}
	s.ring.Write(f.MonoSamples())
	s.lastFrameAt = s.clock()
}

func (s *Session) tick(ctx context.Context, now time.Time) {
	if s.ring.Len() > 0 && now.Sub(s.lastFrameAt) > staleAudio {
		s.ring.Reset()
	}
	if s.ring.Len() > 0 {
		s.scratch = s.ring.Snapshot(s.scratch[:0])
		s.last = s.extractor.Extract(s.scratch, s.sampleRate)
	} else {
		s.last = s.extractor.Extract(nil, 0)
	}

	_, u := s.segmenter.Tick(now, s.last.Loudness)
	if u != nil {
		s.evaluate(ctx, now, u)
	}
	s.publish(now)
}

func (s *Session) onTranscript(ctx context.Context, tr stt.Transcript) {
	if !tr.IsFinal {
		return
	}
	if tr.Generation < s.minGen {
		observe.Logger(ctx).Debug("dropping transcript from a previous engine instance",
			"generation", tr.Generation, "current", s.minGen)
		return
	}
	now := s.clock()
	alt, ok := tr.Best()
	if !ok {
		s.reject(ctx, types.Rejection{Actor: s.player, Reason: types.ReasonNoTranscript, Transcript: tr.Text, Timestamp: now})
		return
	}
	at := tr.Timestamp
	if at.IsZero() {
		at = now
	}
	u := s.segmenter.OfferFinal(segment.Candidate{Text: alt.Text, Confidence: alt.Confidence, At: at})
	if u != nil {
		s.evaluate(ctx, now, u)
	}
}

// evaluate matches a completed utterance and, when a spell is recognised,
// sends it through the player's gate.
func (s *Session) evaluate(ctx context.Context, now time.Time, u *segment.Utterance) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "caster.evaluate")
	defer span.End()

	res, status := s.matcher.Match(u.Candidate.Text, u.Candidate.Confidence)
	span.SetAttributes(
		attribute.String("spell", res.Spell.ID),
		attribute.Float64("accuracy", res.Accuracy),
		attribute.String("status", status.String()),
		attribute.Bool("late_final", u.Late),
	)
	defer func() { s.metrics.RecordEvaluation(ctx, res.Accuracy, time.Since(start)) }()

	switch status {
	case match.NoMatch, match.LowConfidence:
		reason := types.ReasonNoMatch
		if status == match.LowConfidence {
			reason = types.ReasonLowConfidence
		}
		s.reject(ctx, types.Rejection{
			Actor:      s.player,
			Reason:     reason,
			Transcript: u.Candidate.Text,
			SpellID:    res.Spell.ID,
			Accuracy:   res.Accuracy,
			Timestamp:  now,
		})
		return
	}

	letters := make([]types.Letter, len(res.Letters))
	for i, l := range res.Letters {
		letters[i] = types.Letter{Char: string(l.Char), Correct: l.Correct}
	}
	s.admit(ctx, now, attempt{
		actor:      s.player,
		kind:       types.ActorPlayer,
		def:        res.Spell,
		label:      res.Label,
		transcript: u.Candidate.Text,
		accuracy:   res.Accuracy,
		phonetic:   res.Phonetic,
		confidence: res.Confidence,
		power:      match.Power(res.Accuracy, u.Peak),
		tier:       match.ChargeTier(u.Peak),
		letters:    letters,
	})
}

// attempt is a recognised spell on its way through an actor's gate.
type attempt struct {
	actor      string
	kind       types.ActorKind
	def        spell.Definition
	label      string
	transcript string
	accuracy   float64
	phonetic   float64
	confidence float64
	power      float64
	tier       int
	letters    []types.Letter
}

func (s *Session) actorFor(id string, kind types.ActorKind) *actor {
	if a, ok := s.actors[id]; ok {
		return a
	}
	a := &actor{
		kind:  kind,
		gate:  gate.New(s.tuning.Gate),
		combo: combo.NewResolver(s.tuning.Combo),
		mana:  mana.New(s.tuning.Mana.Max, s.tuning.Mana.RegenPerSecond),
	}
	s.actors[id] = a
	return a
}

func (s *Session) admit(ctx context.Context, now time.Time, at attempt) Outcome {
	a := s.actorFor(at.actor, at.kind)

	var budget gate.Spender
	if s.tuning.Mana.Enabled {
		budget = a.mana
	}
	d := a.gate.Evaluate(now, gate.Attempt{
		SpellID:    at.def.ID,
		Transcript: at.transcript,
		Cooldown:   at.def.Cooldown(),
		ManaCost:   at.def.ManaCost,
	}, budget)
	if !d.Accepted() {
		return s.reject(ctx, types.Rejection{
			Actor:      at.actor,
			Reason:     types.RejectReason(d.Reason.String()),
			Transcript: at.transcript,
			SpellID:    at.def.ID,
			Accuracy:   at.accuracy,
			Wait:       d.Wait,
			Timestamp:  now,
		})
	}

	res := a.combo.Resolve(combo.Cast{
		SpellID:   at.def.ID,
		Element:   at.def.Element,
		BasePower: at.def.BasePower * s.tuning.DamageScale,
		Power:     at.power,
		Accuracy:  at.accuracy,
		At:        now,
	})

	ev := types.CastEvent{
		ID:              uuid.NewString(),
		SessionID:       s.id,
		TraceID:         observe.CorrelationID(ctx),
		Actor:           at.actor,
		ActorKind:       at.kind,
		SpellID:         at.def.ID,
		Label:           at.label,
		Element:         at.def.Element.String(),
		Category:        at.def.Category,
		Transcript:      at.transcript,
		Accuracy:        at.accuracy,
		Phonetic:        at.phonetic,
		Confidence:      at.confidence,
		Power:           at.power,
		ChargeTier:      at.tier,
		Chain:           res.Chain,
		ComboMultiplier: res.Multiplier,
		Damage:          res.Damage,
		ComboDamage:     res.ComboDamage,
		ReactionDamage:  res.ReactionDamage,
		Letters:         at.letters,
		Timestamp:       now,
	}
	if s.tuning.Mana.Enabled {
		ev.ManaCost = at.def.ManaCost
	}
	reaction := ""
	if res.HasReaction {
		reaction = res.Reaction.Name
		ev.Reaction = &types.Reaction{
			Name:        res.Reaction.Name,
			Effect:      res.Reaction.Effect,
			Description: res.Reaction.Description,
			Multiplier:  res.Reaction.Multiplier,
		}
	}

	s.metrics.RecordCast(ctx, ev.SpellID, ev.Element, string(ev.ActorKind), ev.Power, ev.Damage, reaction)
	observe.Logger(ctx).Info("spell cast",
		"actor", ev.Actor,
		"spell", ev.SpellID,
		"accuracy", ev.Accuracy,
		"power", ev.Power,
		"chain", ev.Chain,
		"reaction", reaction,
		"damage", ev.Damage,
	)

	// Events is the authoritative stream and must not lose casts; the loop
	// waits for a consumer rather than dropping.
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
	out := Outcome{Event: &ev}
	s.offer(out)
	return out
}

func (s *Session) reject(ctx context.Context, r types.Rejection) Outcome {
	s.metrics.RecordRejection(ctx, string(r.Reason))
	observe.Annotate(ctx, "rejected", attribute.String("reason", string(r.Reason)))
	observe.Logger(ctx).Debug("cast attempt rejected",
		"actor", r.Actor,
		"reason", r.Reason,
		"spell", r.SpellID,
		"accuracy", r.Accuracy,
		"transcript", r.Transcript,
	)
	out := Outcome{Rejection: &r}
	s.offer(out)
	return out
}

func (s *Session) offer(o Outcome) {
	select {
	case s.outcomes <- o:
	default:
	}
}

func (s *Session) publish(now time.Time) {
	t := &types.Telemetry{
		Loudness: s.last.Loudness,
		Peak:     s.last.Peak,
		Speaking: s.segmenter.State() == segment.Speaking,
		Actors:   make(map[string]types.ActorStatus, len(s.actors)),
		At:       now,
	}
	if s.last.HasPitch {
		hz := s.last.PitchHz
		t.PitchHz = &hz
	}
	for id, a := range s.actors {
		st := types.ActorStatus{Chain: a.combo.Current(now)}
		if s.tuning.Mana.Enabled {
			st.Mana = a.mana.Level(now)
			st.ManaMax = a.mana.Max()
		}
		t.Actors[id] = st
	}
	s.telemetry.Store(t)
}
