package config

import (
	"fmt"
	"slices"
)

// ConfigDiff lists the hot-reloadable differences between two configs.
// Provider, listener and store changes need a restart and are reported
// only as RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CallChanged is set when any call tunable differs. CallFields names
	// them by their YAML key.
	CallChanged bool
	CallFields  []string

	StreamChanged bool

	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CallChanged && !d.StreamChanged && !d.RestartRequired
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CallFields = diffCall(old.Call, new.Call)
	d.CallChanged = len(d.CallFields) > 0
	d.StreamChanged = old.Stream != new.Stream

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MediaPath != new.Server.MediaPath ||
		old.Store.PostgresDSN != new.Store.PostgresDSN ||
		!sameProvider(old.Providers.STT, new.Providers.STT) ||
		!sameProvider(old.Providers.LLM, new.Providers.LLM) ||
		!sameProvider(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = true
	}
	return d
}

func diffCall(a, b CallConfig) []string {
	var f []string
	if a.VADThreshold != b.VADThreshold {
		f = append(f, "vad_threshold")
	}
	if a.SilenceFrames != b.SilenceFrames {
		f = append(f, "silence_frames")
	}
	if a.IdleDelay != b.IdleDelay {
		f = append(f, "idle_delay")
	}
	if a.FrameSize != b.FrameSize {
		f = append(f, "frame_size")
	}
	if a.FrameCadence != b.FrameCadence {
		f = append(f, "frame_cadence")
	}
	if !slices.Equal(a.Nudges, b.Nudges) {
		f = append(f, "nudges")
	}
	if a.FallbackReply != b.FallbackReply {
		f = append(f, "fallback_reply")
	}
	if a.SystemPrompt != b.SystemPrompt {
		f = append(f, "system_prompt")
	}
	if a.HistoryLimit != b.HistoryLimit {
		f = append(f, "history_limit")
	}
	if a.Temperature != b.Temperature {
		f = append(f, "temperature")
	}
	if a.MaxTokens != b.MaxTokens {
		f = append(f, "max_tokens")
	}
	if a.CollaboratorTimeout != b.CollaboratorTimeout {
		f = append(f, "collaborator_timeout")
	}
	return f
}

// sameProvider compares the fields that affect construction. Options maps
// are compared by key set and string form only.
func sameProvider(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	for i := range a.Fallbacks {
		if !sameProvider(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
