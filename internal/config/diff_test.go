package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/elderme-design/elderme-server/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram", Options: map[string]any{"language": "en"}},
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
			TTS: config.ProviderEntry{Name: "elevenlabs"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_CallFields(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Call.IdleDelay = 10 * time.Second
	new.Call.Nudges = append(new.Call.Nudges, "Hello?")
	new.Call.SystemPrompt = "be brief"
	new.Call.MaxTokens = 40

	d := config.Diff(old, new)
	if !d.CallChanged {
		t.Fatal("CallChanged = false")
	}
	want := []string{"idle_delay", "nudges", "system_prompt", "max_tokens"}
	if !slices.Equal(d.CallFields, want) {
		t.Errorf("CallFields = %v, want %v", d.CallFields, want)
	}
	if d.RestartRequired {
		t.Error("call tunables should not require restart")
	}
}

func TestDiff_Stream(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Stream.Dialect = config.DialectTwilio
	if d := config.Diff(old, new); !d.StreamChanged {
		t.Errorf("StreamChanged = false")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }},
		{"media path", func(c *config.Config) { c.Server.MediaPath = "/m" }},
		{"dsn", func(c *config.Config) { c.Store.PostgresDSN = "postgres://x" }},
		{"provider name", func(c *config.Config) { c.Providers.TTS.Name = "coqui" }},
		{"provider model", func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" }},
		{"provider option", func(c *config.Config) { c.Providers.STT.Options = map[string]any{"language": "de"} }},
		{"fallback added", func(c *config.Config) {
			c.Providers.STT.Fallbacks = []config.ProviderEntry{{Name: "whisper"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Errorf("RestartRequired = false for %s", tt.name)
			}
			if d.Empty() {
				t.Error("Empty() = true")
			}
		})
	}
}
