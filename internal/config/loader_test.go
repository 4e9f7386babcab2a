package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elderme-design/elderme-server/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"media path", "server:\n  media_path: media\n", "media_path"},
		{"tls half", "server:\n  tls:\n    cert_file: a.pem\n", "tls"},
		{"vad threshold", "call:\n  vad_threshold: 1.5\n", "vad_threshold"},
		{"negative silence", "call:\n  silence_frames: -1\n", "silence_frames"},
		{"negative idle", "call:\n  idle_delay: -2s\n", "idle_delay"},
		{"blank nudge", "call:\n  nudges: [\"hi\", \"  \"]\n", "nudges[1]"},
		{"negative history", "call:\n  history_limit: -3\n", "history_limit"},
		{"temperature", "call:\n  temperature: 3.5\n", "temperature"},
		{"negative max tokens", "call:\n  max_tokens: -1\n", "max_tokens"},
		{"dialect", "stream:\n  dialect: plivo\n", "dialect"},
		{"fallback name", "providers:\n  stt:\n    name: whisper\n    fallbacks:\n      - model: x\n", "fallbacks[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Call:   config.CallConfig{SilenceFrames: -1, HistoryLimit: -1},
		Stream: config.StreamConfig{Dialect: "sip"},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "silence_frames", "history_limit", "dialect"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderIsOnlyWarning(t *testing.T) {
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "my-inhouse-asr"},
	}}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown provider name should not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"stt", "llm", "tts"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elderme.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.TTS.Option("voice_id") != "rachel" {
		t.Errorf("voice_id = %q", cfg.Providers.TTS.Option("voice_id"))
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" || len(cfg.Providers.STT.Fallbacks) != 1 {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if got := cfg.Providers.TTS.Option("output_format"); got != "pcm_16000" {
		t.Errorf("tts output_format = %q", got)
	}
	if len(cfg.Call.Nudges) != 3 {
		t.Errorf("nudges = %d, want 3", len(cfg.Call.Nudges))
	}
	if cfg.Call.MaxTokens != 150 || cfg.Call.Temperature != 0.7 {
		t.Errorf("sampling = %v/%d", cfg.Call.Temperature, cfg.Call.MaxTokens)
	}
	if cfg.Stream.Dialect != config.DialectGeneric {
		t.Errorf("dialect = %q", cfg.Stream.Dialect)
	}
}
