// Command glyphcast is the main entry point for the Glyphcast voice spell
// casting server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/glyphcast/internal/app"
	"github.com/MrWong99/glyphcast/internal/config"
	"github.com/MrWong99/glyphcast/internal/observe"
	"github.com/MrWong99/glyphcast/internal/speech"
	"github.com/MrWong99/glyphcast/pkg/audio"
	"github.com/MrWong99/glyphcast/pkg/audio/mic"
	"github.com/MrWong99/glyphcast/pkg/audio/wavfile"
	"github.com/MrWong99/glyphcast/pkg/audio/wsmic"
	"github.com/MrWong99/glyphcast/pkg/provider/stt"
	"github.com/MrWong99/glyphcast/pkg/provider/stt/deepgram"
	"github.com/MrWong99/glyphcast/pkg/provider/stt/whisper"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	replay := flag.String("replay", "", "replay a WAV recording instead of the configured audio source")
	watch := flag.Bool("watch", true, "hot-reload tuning and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glyphcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glyphcast: %v\n", err)
		}
		return 1
	}
	if *replay != "" {
		cfg.Providers.Audio = config.ProviderEntry{Name: "wavfile", Options: map[string]any{"path": *replay}}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("glyphcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch && *replay == "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if n := optInt(entry.Options, "alternatives"); n > 0 {
			opts = append(opts, deepgram.WithAlternatives(n))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("mic", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []mic.Option
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, mic.WithSampleRate(rate))
		}
		if dev := optString(entry.Options, "device"); dev != "" {
			opts = append(opts, mic.WithDeviceName(dev))
		}
		return mic.New(opts...), nil
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry) (audio.Source, error) {
		path := optString(entry.Options, "path")
		if path == "" {
			return nil, errors.New("wavfile needs options.path")
		}
		realtime := true
		if v, ok := entry.Options["realtime"].(bool); ok {
			realtime = v
		}
		return wavfile.Open(path, wavfile.WithRealtime(realtime))
	})

	reg.RegisterAudio("wsmic", func(entry config.ProviderEntry) (audio.Source, error) {
		opts := []wsmic.Option{wsmic.WithOriginPatterns(cfg.Server.OriginPatterns...)}
		if optString(entry.Options, "codec") == "pcm" {
			rate := optInt(entry.Options, "sample_rate")
			if rate <= 0 {
				rate = 16000
			}
			opts = append(opts, wsmic.WithPCM(rate))
		}
		return wsmic.New(opts...), nil
	})

	for _, kind := range []string{"stt", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. The primary speech
// engine and every fallback are chained behind a circuit-breaking failover.
// The returned func closes providers that hold resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}

	failover := speech.NewFailover(speech.BreakerConfig{})
	for _, entry := range append([]config.ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...) {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
		failover.Add(entry.Name, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	src, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return &app.Providers{STT: failover, Audio: src}, closeAll, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Glyphcast, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("Audio", providerLabel(cfg.Providers.Audio.Name, ""))
	spells := cfg.Spells.Path
	if spells == "" {
		spells = "(built-in)"
	}
	printRow("Spells", spells)
	printRow("Journal", string(cfg.Journal.Driver))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from Options. YAML decodes whole numbers as int;
// float values are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
