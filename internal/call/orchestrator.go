package call

import (
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/pkg/audio"
	"github.com/elderme-design/elderme-server/pkg/audio/mulaw"
	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
	"github.com/elderme-design/elderme-server/pkg/provider/llm"
)

// runTurn takes one finalized turn through recognition, generation and
// speech. Each step fails on its own terms: no transcript drops the turn,
// a generation error speaks the fallback reply, and a synthesis error drops
// the reply.
func (s *Session) runTurn(pcm []byte) {
	start := time.Now()
	ctx, span := observe.StartSpan(s.ctx, "call.turn", trace.WithAttributes(
		attribute.String("call.id", s.cfg.CallID),
		attribute.Int("turn.bytes", len(pcm)),
	))
	defer span.End()

	text, err := s.recognize(pcm)
	if s.Closed() {
		s.metrics.RecordTurn(ctx, observe.OutcomeAbandoned, 0)
		return
	}
	if err != nil || text == "" {
		outcome := observe.OutcomeEmpty
		if err != nil {
			outcome = observe.OutcomeRecognition
		}
		s.metrics.RecordTurn(ctx, outcome, 0)
		s.resume()
		return
	}

	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	s.stats.Turns++
	history := slices.Clone(s.history)
	s.mu.Unlock()

	reply, fellBack := s.generate(history, text)
	if s.Closed() {
		s.metrics.RecordTurn(ctx, observe.OutcomeAbandoned, 0)
		return
	}

	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	s.mu.Unlock()

	outcome := s.speak(reply)
	if outcome == observe.OutcomeReplied && fellBack {
		outcome = observe.OutcomeFallback
	}
	span.SetAttributes(attribute.String("turn.outcome", outcome))
	s.metrics.RecordTurn(ctx, outcome, time.Since(start))
}

// recognize returns the trimmed transcript; "" means nothing usable.
func (s *Session) recognize(pcm []byte) (string, error) {
	ctx, cancel := s.collaboratorContext()
	defer cancel()

	start := time.Now()
	text, err := s.cfg.Recognizer.Transcribe(ctx, pcm, audio.Telephony.SampleRate)
	s.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("call: recognition failed, dropping turn", "err", err)
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Debug("call: empty transcript, dropping turn", "bytes", len(pcm))
		return "", nil
	}
	s.log.Info("call: caller said", "chars", len(text))
	return text, nil
}

// generate returns the reply, or the fallback line with fellBack set.
func (s *Session) generate(history []llm.Message, latest string) (reply string, fellBack bool) {
	ctx, cancel := s.collaboratorContext()
	defer cancel()

	start := time.Now()
	reply, err := s.cfg.Generator.Reply(ctx, history, latest)
	s.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		s.log.Warn("call: generation failed, using fallback reply", "err", err)
		return s.cfg.FallbackReply, true
	}
	return reply, false
}

// speak synthesizes text and streams it to the caller, then returns the
// session to Listening. It is shared by turn replies and idle nudges.
func (s *Session) speak(text string) string {
	ctx, cancel := s.collaboratorContext()
	start := time.Now()
	out, err := s.cfg.Synthesizer.Synthesize(ctx, text)
	s.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	cancel()
	if err != nil {
		s.log.Error("call: synthesis failed, reply dropped", "err", err)
		s.resume()
		return observe.OutcomeSynthesis
	}

	payload := mulaw.Encode(audio.Convert(out.PCM, out.Format(), audio.Telephony))
	if !s.setSpeaking() {
		return observe.OutcomeAbandoned
	}

	res, err := pacer.Stream(s.ctx, s.cfg.Sink, payload,
		pacer.WithFrameSize(s.cfg.FrameSize),
		pacer.WithCadence(s.cfg.FrameCadence),
	)
	s.metrics.FramesSent.Add(s.ctx, int64(res.Frames))
	if res.Interrupted {
		s.metrics.Interruptions.Add(s.ctx, 1)
	}
	if err != nil && s.ctx.Err() == nil {
		s.log.Warn("call: reply stream failed", "err", err, "frames", res.Frames)
	}

	s.resume()
	if res.Interrupted {
		return observe.OutcomeAbandoned
	}
	return observe.OutcomeReplied
}
