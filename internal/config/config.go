// Package config holds the server's YAML schema, its loader and validator,
// the provider registry, and a polling watcher for hot reload.
package config

import "time"

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

// Dialect selects the JSON shape of outbound media messages.
type Dialect string

const (
	// DialectGeneric writes the stream id as "stream_id".
	DialectGeneric Dialect = "generic"

	// DialectTwilio writes the stream id as "streamSid".
	DialectTwilio Dialect = "twilio"
)

// IsValid reports whether d is a known dialect.
func (d Dialect) IsValid() bool {
	return d == DialectGeneric || d == DialectTwilio
}

// Config is the root of the YAML file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Call      CallConfig      `yaml:"call"`
	Stream    StreamConfig    `yaml:"stream"`
	Store     StoreConfig     `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to listen on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MediaPath is the HTTP path upgraded to the media websocket.
	// Default "/media".
	MediaPath string `yaml:"media_path"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the three conversation collaborators.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry names a registered provider and its settings.
type ProviderEntry struct {
	// Name selects the factory in the [Registry].
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options carries provider-specific values (voice_id, language, ...).
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Option returns Options[key] as a string, or "" when absent or not a
// string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// CallConfig tunes the per-call audio pipeline. New sessions read the
// current values, so a hot reload applies to the next call.
type CallConfig struct {
	// VADThreshold is the RMS energy above which a frame counts as speech.
	VADThreshold float64 `yaml:"vad_threshold"`

	// SilenceFrames is the run of non-speech frames that ends a turn.
	SilenceFrames int `yaml:"silence_frames"`

	// IdleDelay is how long the caller may stay silent before a nudge.
	IdleDelay time.Duration `yaml:"idle_delay"`

	// FrameSize is the outbound frame size in bytes of μ-law.
	FrameSize int `yaml:"frame_size"`

	// FrameCadence is the pause between outbound frames.
	FrameCadence time.Duration `yaml:"frame_cadence"`

	// Nudges are the candidate lines spoken when the caller is idle.
	Nudges []string `yaml:"nudges"`

	// FallbackReply is spoken when reply generation fails.
	FallbackReply string `yaml:"fallback_reply"`

	SystemPrompt string `yaml:"system_prompt"`

	// HistoryLimit caps the entries sent to the generator. 0 means all.
	HistoryLimit int `yaml:"history_limit"`

	// Temperature is the sampling temperature. 0 leaves the backend default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each reply's length.
	MaxTokens int `yaml:"max_tokens"`

	// CollaboratorTimeout bounds each recognizer, generator and
	// synthesizer call.
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
}

// StreamConfig tunes the media websocket.
type StreamConfig struct {
	Dialect Dialect `yaml:"dialect"`

	// KeepaliveInterval is the websocket ping period. Negative disables it.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// ReadLimit is the largest inbound message accepted, in bytes.
	ReadLimit int64 `yaml:"read_limit"`
}

// StoreConfig selects where call records go. An empty DSN keeps them in
// memory.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`

	// RecentLimit caps the call list served by the admin endpoint.
	RecentLimit int `yaml:"recent_limit"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultMediaPath           = "/media"
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultVADThreshold        = 0.015
	DefaultSilenceFrames       = 12
	DefaultIdleDelay           = 3 * time.Second
	DefaultFrameSize           = 160
	DefaultFrameCadence        = 20 * time.Millisecond
	DefaultHistoryLimit        = 20
	DefaultMaxTokens           = 150
	DefaultCollaboratorTimeout = 20 * time.Second
	DefaultKeepaliveInterval   = 15 * time.Second
	DefaultReadLimit           = 64 << 10
	DefaultRecentLimit         = 50

	DefaultFallbackReply = "I'm sorry, I didn't quite catch that. Could you say it again?"
	DefaultSystemPrompt  = "You are a warm, patient companion talking with an older adult on the telephone. " +
		"Keep replies short and easy to follow, one or two sentences, and ask gentle follow-up questions."
)

// DefaultNudges are spoken when no nudges are configured.
var DefaultNudges = []string{
	"Are you still there?",
	"Take your time, I'm listening.",
	"Is there anything on your mind today?",
}

// ApplyDefaults fills zero-valued fields in cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MediaPath == "" {
		s.MediaPath = DefaultMediaPath
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	c := &cfg.Call
	if c.VADThreshold == 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.SilenceFrames == 0 {
		c.SilenceFrames = DefaultSilenceFrames
	}
	if c.IdleDelay == 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.FrameCadence == 0 {
		c.FrameCadence = DefaultFrameCadence
	}
	if len(c.Nudges) == 0 {
		c.Nudges = append([]string(nil), DefaultNudges...)
	}
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.CollaboratorTimeout == 0 {
		c.CollaboratorTimeout = DefaultCollaboratorTimeout
	}

	st := &cfg.Stream
	if st.Dialect == "" {
		st.Dialect = DialectGeneric
	}
	if st.KeepaliveInterval == 0 {
		st.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if st.ReadLimit == 0 {
		st.ReadLimit = DefaultReadLimit
	}

	if cfg.Store.RecentLimit == 0 {
		cfg.Store.RecentLimit = DefaultRecentLimit
	}
}
