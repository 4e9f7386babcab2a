package resilience

import (
	"context"

	"github.com/elderme-design/elderme-server/pkg/provider/llm"
	"github.com/elderme-design/elderme-server/pkg/provider/stt"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
)

// Recognizer fails over between speech recognizers.
type Recognizer struct{ *Group[stt.Recognizer] }

var _ stt.Recognizer = Recognizer{}

// NewRecognizer wraps primary; add fallbacks with Add.
func NewRecognizer(name string, primary stt.Recognizer, cfg BreakerConfig) Recognizer {
	return Recognizer{NewGroup(name, primary, cfg)}
}

// Transcribe implements [stt.Recognizer].
func (r Recognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return Call(ctx, r.Group, func(ctx context.Context, s stt.Recognizer) (string, error) {
		return s.Transcribe(ctx, pcm, sampleRate)
	})
}

// Completer fails over between chat completion backends. Each call's
// responder wraps it with the session's prompt and history window.
type Completer struct{ *Group[llm.Completer] }

var _ llm.Completer = Completer{}

// NewCompleter wraps primary; add fallbacks with Add.
func NewCompleter(name string, primary llm.Completer, cfg BreakerConfig) Completer {
	return Completer{NewGroup(name, primary, cfg)}
}

// Complete implements [llm.Completer].
func (c Completer) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	return Call(ctx, c.Group, func(ctx context.Context, l llm.Completer) (*llm.Completion, error) {
		return l.Complete(ctx, req)
	})
}

// Synthesizer fails over between speech synthesizers.
type Synthesizer struct{ *Group[tts.Synthesizer] }

var _ tts.Synthesizer = Synthesizer{}

// NewSynthesizer wraps primary; add fallbacks with Add.
func NewSynthesizer(name string, primary tts.Synthesizer, cfg BreakerConfig) Synthesizer {
	return Synthesizer{NewGroup(name, primary, cfg)}
}

// Synthesize implements [tts.Synthesizer].
func (s Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	return Call(ctx, s.Group, func(ctx context.Context, t tts.Synthesizer) (tts.Audio, error) {
		return t.Synthesize(ctx, text)
	})
}
