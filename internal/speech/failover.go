package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/glyphcast/pkg/provider/stt"
)

// ErrAllFailed is returned by [Failover.StartStream] when no engine could be
// started. It is always joined with [stt.ErrEngineFailed].
var ErrAllFailed = errors.New("speech: all engines failed")

type backend struct {
	name     string
	provider stt.Provider
	breaker  *Breaker
}

// Failover is an [stt.Provider] that starts streams on the first healthy
// engine in registration order. Each engine has its own [Breaker].
//
// Register engines before the first StartStream; Add is not synchronised
// against concurrent starts.
type Failover struct {
	cfg      BreakerConfig
	backends []backend
}

var _ stt.Provider = (*Failover)(nil)

// NewFailover creates a Failover whose per-engine breakers use cfg. cfg.Name
// is replaced by each engine's name.
func NewFailover(cfg BreakerConfig) *Failover {
	return &Failover{cfg: cfg}
}

// Add registers an engine. The first engine added is the primary.
func (f *Failover) Add(name string, p stt.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend{name: name, provider: p, breaker: NewBreaker(cfg)})
}

// Len returns the number of registered engines.
func (f *Failover) Len() int { return len(f.backends) }

// StartStream tries each engine until one opens a stream. Engines whose
// breaker is open are skipped without being called.
func (f *Failover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		var h stt.SessionHandle
		err := b.breaker.Do(func() error {
			var err error
			h, err = b.provider.StartStream(ctx, cfg)
			return err
		})
		if err == nil {
			return h, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("speech: skipping engine, breaker open", "engine", b.name)
			continue
		}
		slog.Warn("speech: engine failed to start, trying next", "engine", b.name, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no engines registered")
	}
	return nil, fmt.Errorf("%w: %w: %w", stt.ErrEngineFailed, ErrAllFailed, lastErr)
}
