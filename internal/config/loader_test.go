package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/glyphcast/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  player: alice
  origin_patterns: ["localhost:5173"]

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
    language: en-US
  stt_fallbacks:
    - name: whisper
      model: /models/ggml-base.en.bin
  audio:
    name: mic

spells:
  path: spells.yaml

tuning:
  min_accuracy: [25, 30, 40, 50, 60]
  min_confidence: 0.5
  global_cooldown_ms: 800
  echo_suppress_ms: 0
  combo_decay_ms: 4000
  voice_activity_threshold: 0.05
  silence_timeout_ms: 500
  late_final_grace_ms: 300
  peak_decay: 0.95
  tick_interval_ms: 20
  buffer_size: 1024
  preferred_name: display

mana:
  enabled: false

journal:
  driver: sqlite
  dsn: casts.db

telemetry:
  service_name: glyphcast-test
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.Player != "alice" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Language != "en-US" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Name != "whisper" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Journal.Driver != config.JournalSQLite || cfg.Journal.RecentLimit != config.DefaultRecentLimit {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	if cfg.Telemetry.ServiceName != "glyphcast-test" {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.Audio.Name != config.DefaultAudio {
		t.Errorf("audio = %q", cfg.Providers.Audio.Name)
	}
	if cfg.Journal.Driver != config.JournalMemory {
		t.Errorf("journal.driver = %q", cfg.Journal.Driver)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing stt", "server:\n  log_level: info\n", "providers.stt.name is required"},
		{"bad log level", "server:\n  log_level: loud\nproviders:\n  stt:\n    name: whisper\n", "server.log_level"},
		{"half tls", "server:\n  tls:\n    cert_file: a.pem\nproviders:\n  stt:\n    name: whisper\n", "server.tls"},
		{"unnamed fallback", "providers:\n  stt:\n    name: whisper\n  stt_fallbacks:\n    - model: x\n", "stt_fallbacks[0].name"},
		{"short thresholds", "providers:\n  stt:\n    name: whisper\ntuning:\n  min_accuracy: [10, 20]\n", "min_accuracy has 2 entries"},
		{"falling thresholds", "providers:\n  stt:\n    name: whisper\ntuning:\n  min_accuracy: [50, 40, 30, 20, 10]\n", "tuning:"},
		{"confidence range", "providers:\n  stt:\n    name: whisper\ntuning:\n  min_confidence: 1.5\n", "min_confidence"},
		{"preferred name", "providers:\n  stt:\n    name: whisper\ntuning:\n  preferred_name: nickname\n", "preferred_name"},
		{"negative tick", "providers:\n  stt:\n    name: whisper\ntuning:\n  tick_interval_ms: -1\n", "must not be negative"},
		{"journal driver", "providers:\n  stt:\n    name: whisper\njournal:\n  driver: mongo\n", "journal.driver"},
		{"journal dsn", "providers:\n  stt:\n    name: whisper\njournal:\n  driver: postgres\n", "journal.dsn"},
		{"sample ratio", "providers:\n  stt:\n    name: whisper\ntelemetry:\n  sample_ratio: 2\n", "telemetry.sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\njournal:\n  driver: mongo\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "providers.stt.name", "journal.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q is missing %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Spells.Path != "spells.yaml" {
		t.Errorf("spells.path = %q", cfg.Spells.Path)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("configs/example.yaml does not load: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" || len(cfg.Providers.STTFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Journal.Driver != config.JournalSQLite || cfg.Telemetry.SampleRatio != 0.25 {
		t.Errorf("journal = %+v, telemetry = %+v", cfg.Journal, cfg.Telemetry)
	}
}
