// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the glyphcast server.
package config

import (
	"time"

	"github.com/MrWong99/glyphcast/internal/caster"
	"github.com/MrWong99/glyphcast/internal/feature"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// JournalDriver selects the cast journal backend.
type JournalDriver string

const (
	JournalMemory   JournalDriver = "memory"
	JournalPostgres JournalDriver = "postgres"
	JournalSQLite   JournalDriver = "sqlite"
)

// IsValid reports whether d is a recognised journal driver.
func (d JournalDriver) IsValid() bool {
	switch d {
	case JournalMemory, JournalPostgres, JournalSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Spells    SpellsConfig    `yaml:"spells"`
	Tuning    TuningConfig    `yaml:"tuning"`
	Mana      ManaConfig      `yaml:"mana"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// OriginPatterns lists extra hosts allowed to open the /mic and /feed
	// WebSockets from a browser. Same-origin requests are always allowed.
	OriginPatterns []string `yaml:"origin_patterns"`

	// Player is the actor id of the local speaker. Defaults to "player".
	Player string `yaml:"player"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the speech engine and capture source. Each entry
// names a factory registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary engine cannot start.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "deepgram", "mic").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "nova-2" or a path to
	// a ggml whisper model).
	Model string `yaml:"model"`

	// Language is the BCP-47 recognition language. Empty lets the engine
	// decide.
	Language string `yaml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// SpellsConfig locates the spell library.
type SpellsConfig struct {
	// Path is a YAML spell library. Empty uses the built-in library.
	Path string `yaml:"path"`
}

// TuningConfig mirrors every live-adjustable threshold. Zero values take the
// component defaults; fields where zero is meaningful are pointers.
type TuningConfig struct {
	// MinAccuracy holds the accuracy bar for difficulty 1 through 5.
	MinAccuracy   []float64 `yaml:"min_accuracy"`
	MinConfidence *float64  `yaml:"min_confidence"`

	GlobalCooldownMS *int `yaml:"global_cooldown_ms"`
	EchoSuppressMS   *int `yaml:"echo_suppress_ms"`

	ComboDecayMS     int      `yaml:"combo_decay_ms"`
	ComboMinAccuracy *float64 `yaml:"combo_min_accuracy"`

	VoiceActivityThreshold float64 `yaml:"voice_activity_threshold"`
	SilenceTimeoutMS       int     `yaml:"silence_timeout_ms"`
	LateFinalGraceMS       *int    `yaml:"late_final_grace_ms"`

	NoiseFloor    float64 `yaml:"noise_floor"`
	LoudnessScale float64 `yaml:"loudness_scale"`
	PeakDecay     float64 `yaml:"peak_decay"`

	// TickIntervalMS and BufferSize shape the analysis loop. They apply to
	// new sessions only.
	TickIntervalMS int `yaml:"tick_interval_ms"`
	BufferSize     int `yaml:"buffer_size"`

	// PreferredName is "canonical" (default) or "display" and selects the
	// label reported on cast events.
	PreferredName string `yaml:"preferred_name"`

	// DamageScale converts base power into base damage. Default 20.
	DamageScale float64 `yaml:"damage_scale"`
}

// ManaConfig configures the per-actor mana pools.
type ManaConfig struct {
	// Enabled defaults to true.
	Enabled        *bool   `yaml:"enabled"`
	Max            float64 `yaml:"max"`
	RegenPerSecond float64 `yaml:"regen_per_second"`
}

// JournalConfig selects where cast events are recorded.
type JournalConfig struct {
	// Driver is memory (default), postgres or sqlite.
	Driver JournalDriver `yaml:"driver"`

	// DSN is the connection string for postgres or the file path for sqlite.
	DSN string `yaml:"dsn"`

	// RecentLimit caps how many events the /journal endpoint returns.
	RecentLimit int `yaml:"recent_limit"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of new traces recorded, 0..1. Zero means
	// every trace; requests carrying a sampled parent are always recorded.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CasterTuning converts the tuning and mana sections into [caster.Tuning].
func (c *Config) CasterTuning() caster.Tuning {
	t := caster.DefaultTuning()
	tc := c.Tuning

	t.Feature = feature.Params{
		NoiseFloor:    tc.NoiseFloor,
		LoudnessScale: tc.LoudnessScale,
		PeakDecay:     tc.PeakDecay,
	}
	if tc.VoiceActivityThreshold > 0 {
		t.Segment.Threshold = tc.VoiceActivityThreshold
	}
	if tc.SilenceTimeoutMS > 0 {
		t.Segment.SilenceTimeout = ms(tc.SilenceTimeoutMS)
	}
	if tc.LateFinalGraceMS != nil {
		t.Segment.LateFinalGrace = ms(*tc.LateFinalGraceMS)
	}

	if len(tc.MinAccuracy) == len(t.Match.Thresholds) {
		copy(t.Match.Thresholds[:], tc.MinAccuracy)
	}
	if tc.MinConfidence != nil {
		t.Match.MinConfidence = *tc.MinConfidence
	}
	t.Match.PreferDisplay = tc.PreferredName == "display"

	if tc.GlobalCooldownMS != nil {
		t.Gate.GlobalCooldown = ms(*tc.GlobalCooldownMS)
	}
	if tc.EchoSuppressMS != nil {
		t.Gate.EchoWindow = ms(*tc.EchoSuppressMS)
	}

	if tc.ComboDecayMS > 0 {
		t.Combo.Decay = ms(tc.ComboDecayMS)
	}
	if tc.ComboMinAccuracy != nil {
		t.Combo.MinAccuracy = *tc.ComboMinAccuracy
	}

	if c.Mana.Enabled != nil {
		t.Mana.Enabled = *c.Mana.Enabled
	}
	if c.Mana.Max > 0 {
		t.Mana.Max = c.Mana.Max
	}
	if c.Mana.RegenPerSecond > 0 {
		t.Mana.RegenPerSecond = c.Mana.RegenPerSecond
	}

	if tc.DamageScale > 0 {
		t.DamageScale = tc.DamageScale
	}
	return t
}

// TickInterval returns the analysis tick, or [caster.DefaultTickInterval].
func (c *Config) TickInterval() time.Duration {
	if c.Tuning.TickIntervalMS > 0 {
		return ms(c.Tuning.TickIntervalMS)
	}
	return caster.DefaultTickInterval
}

// BufferSize returns the analysis window in samples, or
// [caster.DefaultBufferSize].
func (c *Config) BufferSize() int {
	if c.Tuning.BufferSize > 0 {
		return c.Tuning.BufferSize
	}
	return caster.DefaultBufferSize
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
