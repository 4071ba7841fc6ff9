package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultAudio       = "wsmic"
	DefaultServiceName = "glyphcast"
	DefaultRecentLimit = 50
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"stt":   {"deepgram", "whisper"},
	"audio": {"mic", "wavfile", "wsmic"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset server, provider, journal and telemetry fields.
// Tuning zero values are resolved later by [Config.CasterTuning].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = DefaultAudio
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = JournalMemory
	}
	if cfg.Journal.RecentLimit <= 0 {
		cfg.Journal.RecentLimit = DefaultRecentLimit
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)

	tc := cfg.Tuning
	if n := len(tc.MinAccuracy); n != 0 && n != 5 {
		errs = append(errs, fmt.Errorf("tuning.min_accuracy has %d entries; want one per difficulty (5)", n))
	}
	switch tc.PreferredName {
	case "", "canonical", "display":
	default:
		errs = append(errs, fmt.Errorf("tuning.preferred_name %q is invalid; valid values: canonical, display", tc.PreferredName))
	}
	if tc.TickIntervalMS < 0 || tc.BufferSize < 0 || tc.SilenceTimeoutMS < 0 || tc.ComboDecayMS < 0 {
		errs = append(errs, errors.New("tuning: durations and buffer_size must not be negative"))
	}
	if err := cfg.CasterTuning().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tuning: %w", err))
	}
	if cfg.Mana.Max < 0 || cfg.Mana.RegenPerSecond < 0 {
		errs = append(errs, errors.New("mana.max and mana.regen_per_second must not be negative"))
	}

	if d := cfg.Journal.Driver; d != "" && !d.IsValid() {
		errs = append(errs, fmt.Errorf("journal.driver %q is invalid; valid values: memory, postgres, sqlite", d))
	}
	if (cfg.Journal.Driver == JournalPostgres || cfg.Journal.Driver == JournalSQLite) && cfg.Journal.DSN == "" {
		errs = append(errs, fmt.Errorf("journal.dsn is required for driver %q", cfg.Journal.Driver))
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v is outside [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// the built-in names for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
