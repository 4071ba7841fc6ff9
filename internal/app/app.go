// Package app wires all Glyphcast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the casting session until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithJournal,
// WithLibrary, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphcast/internal/caster"
	"github.com/MrWong99/glyphcast/internal/config"
	"github.com/MrWong99/glyphcast/internal/feed"
	"github.com/MrWong99/glyphcast/internal/health"
	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/internal/journal/postgres"
	"github.com/MrWong99/glyphcast/internal/journal/sqlite"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
	"github.com/MrWong99/glyphcast/pkg/spell"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	// STT is the speech engine. main.go wraps the primary and fallback
	// engines in a failover chain.
	STT stt.Provider

	Audio audio.Source
}

// pinger is implemented by journal backends that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes and serves the Glyphcast HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers

	lib      *spell.Library
	journal  journal.Store
	hub      *feed.Hub
	health   *health.Handler
	metrics  *observe.Metrics
	sessions *SessionManager
	level    *slog.LevelVar
	handler  http.Handler
	listener net.Listener

	casterOpts []caster.Option

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a cast journal instead of creating one from config.
func WithJournal(j journal.Store) Option {
	return func(a *App) { a.journal = j }
}

// WithLibrary injects a spell library instead of loading spells.path.
func WithLibrary(lib *spell.Library) Option {
	return func(a *App) { a.lib = lib }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithCasterOptions adds options to every casting session the app starts.
func WithCasterOptions(opts ...caster.Option) Option {
	return func(a *App) { a.casterOpts = append(a.casterOpts, opts...) }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initLibrary(); err != nil {
		return nil, fmt.Errorf("app: init spells: %w", err)
	}
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	a.hub = feed.NewHub(feed.WithMetrics(a.metrics))
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:        cfg,
		Providers:     providers,
		Library:       a.lib,
		Journal:       a.journal,
		Hub:           a.hub,
		Metrics:       a.metrics,
		CasterOptions: a.casterOpts,
	})

	a.health = health.New(health.Func("session", a.sessions.IsActive, ErrNoSession))
	if p, ok := a.journal.(pinger); ok {
		a.health.Add(health.Checker{Name: "journal", Check: p.Ping})
	}

	a.handler = a.routes()
	return a, nil
}

// initLibrary loads the spell library or falls back to the built-in one.
func (a *App) initLibrary() error {
	if a.lib != nil {
		return nil
	}
	if a.cfg.Spells.Path == "" {
		a.lib = spell.Default()
		slog.Info("using built-in spell library", "spells", a.lib.Len())
		return nil
	}
	lib, err := spell.LoadLibrary(a.cfg.Spells.Path)
	if err != nil {
		return err
	}
	a.lib = lib
	slog.Info("loaded spell library", "path", a.cfg.Spells.Path, "spells", lib.Len())
	return nil
}

// initJournal opens the configured cast journal or uses the injected one.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	switch a.cfg.Journal.Driver {
	case config.JournalPostgres:
		store, err := postgres.New(ctx, a.cfg.Journal.DSN)
		if err != nil {
			return err
		}
		a.journal = store
	case config.JournalSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Journal.DSN)
		if err != nil {
			return err
		}
		a.journal = store
	default:
		a.journal = journal.NewMemory(0)
	}
	a.closers = append(a.closers, a.journal.Close)
	slog.Info("cast journal ready", "driver", a.cfg.Journal.Driver)
	return nil
}

// routes builds the HTTP mux. Every route is wrapped by the observe
// middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /feed", feed.NewHandler(a.hub,
		feed.WithSubmitter(a.sessions),
		feed.WithOriginPatterns(a.cfg.Server.OriginPatterns...),
	))
	if h, ok := a.micHandler(); ok {
		mux.Handle("GET /mic", h)
	}
	mux.HandleFunc("GET /journal", a.serveJournal)
	mux.HandleFunc("GET /stats", a.serveStats)
	mux.HandleFunc("GET /telemetry", a.serveTelemetry)
	mux.HandleFunc("GET /session", a.serveSession)
	mux.HandleFunc("POST /session/reset", a.serveReset)
	return observe.Middleware(a.metrics)(mux)
}

// micHandler returns the capture source when it also accepts browser
// microphones over HTTP.
func (a *App) micHandler() (http.Handler, bool) {
	if a.providers == nil || a.providers.Audio == nil {
		return nil, false
	}
	h, ok := a.providers.Audio.(http.Handler)
	return h, ok
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Library returns the spell library in use.
func (a *App) Library() *spell.Library { return a.lib }

func (a *App) serveJournal(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.Journal.RecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, a.cfg.Journal.RecentLimit)
	}
	events, err := a.journal.Recent(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		observe.Logger(r.Context()).Warn("journal query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *App) serveStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.journal.Stats(r.Context(), r.URL.Query().Get("actor"))
	if err != nil {
		observe.Logger(r.Context()).Warn("journal stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) serveTelemetry(w http.ResponseWriter, _ *http.Request) {
	t, err := a.sessions.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *App) serveSession(w http.ResponseWriter, _ *http.Request) {
	if !a.sessions.IsActive() {
		writeError(w, http.StatusServiceUnavailable, ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) serveReset(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Reset(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Run starts the casting session and the HTTP server and blocks until ctx is
// cancelled or either fails. A cancelled ctx returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := a.sessions.Start(ctx); err != nil {
		return err
	}

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "spells", a.lib.Len(), "player", a.sessions.Info().Player)
	return g.Wait()
}

// ApplyConfig hot-applies the parts of next that can change at runtime and
// logs the sections that need a restart. It is the config watcher callback.
// Sessions started later read next in full.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TuningChanged {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.sessions.UpdateTuning(ctx, next.CasterTuning()); err != nil {
			slog.Warn("tuning update rejected", "fields", d.TuningFields, "err", err)
		} else {
			slog.Info("tuning updated", "fields", d.TuningFields)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.sessions.setConfig(next)
}

// SlogLevel converts a config log level to an slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown stops the session and tears down all subsystems. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil {
			slog.Debug("session stop", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
