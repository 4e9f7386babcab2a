package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. Unknown
// names only produce a warning so that out-of-tree providers can register.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "coqui", "openai"},
}

// Load reads, defaults and validates the YAML file at path.
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

// LoadFromReader decodes YAML from r strictly, then applies defaults and
// validates. An empty document yields an all-defaults config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg as one joined error.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if p := cfg.Server.MediaPath; p != "" && !strings.HasPrefix(p, "/") {
		add("server.media_path %q must start with /", p)
	}
	if t := cfg.Server.TLS; t != nil && (t.CertFile == "" || t.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	checkProvider := func(kind string, e ProviderEntry) {
		if e.Name == "" {
			slog.Warn("no provider configured; calls cannot hold a conversation", "kind", kind)
			return
		}
		warnUnknownProvider(kind, e.Name)
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				add("providers.%s.fallbacks[%d].name is required", kind, i)
				continue
			}
			warnUnknownProvider(kind, fb.Name)
		}
	}
	checkProvider("stt", cfg.Providers.STT)
	checkProvider("llm", cfg.Providers.LLM)
	checkProvider("tts", cfg.Providers.TTS)

	c := cfg.Call
	if c.VADThreshold < 0 || c.VADThreshold >= 1 {
		add("call.vad_threshold %.4f is out of range [0, 1)", c.VADThreshold)
	}
	if c.SilenceFrames < 0 {
		add("call.silence_frames must not be negative")
	}
	if c.IdleDelay < 0 {
		add("call.idle_delay must not be negative")
	}
	if c.FrameSize < 0 {
		add("call.frame_size must not be negative")
	}
	if c.FrameCadence < 0 {
		add("call.frame_cadence must not be negative")
	}
	for i, n := range c.Nudges {
		if strings.TrimSpace(n) == "" {
			add("call.nudges[%d] is blank", i)
		}
	}
	if c.HistoryLimit < 0 {
		add("call.history_limit must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		add("call.temperature %.2f is out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		add("call.max_tokens must not be negative")
	}
	if c.CollaboratorTimeout < 0 {
		add("call.collaborator_timeout must not be negative")
	}

	if d := cfg.Stream.Dialect; d != "" && !d.IsValid() {
		add("stream.dialect %q is invalid; valid values: generic, twilio", d)
	}
	if cfg.Stream.ReadLimit < 0 {
		add("stream.read_limit must not be negative")
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(kind, name string) {
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, expecting an out-of-tree registration",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
