// Package call runs one telephone conversation: it segments the caller's
// audio into turns, asks the collaborators for a transcript, a reply and
// speech, and paces the reply back onto the line.
package call

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
	"github.com/elderme-design/elderme-server/pkg/provider/llm"
	"github.com/elderme-design/elderme-server/pkg/provider/stt"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
	"github.com/elderme-design/elderme-server/pkg/provider/vad"
	"github.com/elderme-design/elderme-server/pkg/provider/vad/energy"
)

// Config holds a session's collaborators and tunables.
//
// Sink, Recognizer, Generator and Synthesizer are required. Zero tunables
// take the package defaults.
type Config struct {
	// CallID identifies the call in logs and the call store.
	CallID   string
	StreamID string

	Sink        pacer.Sink
	Recognizer  stt.Recognizer
	Generator   llm.Generator
	Synthesizer tts.Synthesizer

	// Classifier labels inbound frames. Default: energy detector at
	// VADThreshold.
	Classifier   vad.Classifier
	VADThreshold float64

	SilenceFrames int

	// IdleDelay is the caller silence before a nudge. Negative disables
	// nudging.
	IdleDelay time.Duration

	FrameSize    int
	FrameCadence time.Duration

	Nudges        []string
	FallbackReply string

	// CollaboratorTimeout bounds each recognition, generation and synthesis
	// call. Zero means no bound.
	CollaboratorTimeout time.Duration

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Intn picks a nudge index in [0, n). Default math/rand/v2.IntN.
	Intn func(n int) int
}

// Defaults used when the matching Config field is zero.
const (
	DefaultSilenceFrames = 12
	DefaultIdleDelay     = 3 * time.Second
	DefaultFallbackReply = "I'm sorry, could you say that again?"
)

// Stats are the per-call counters kept for the call record.
type Stats struct {
	Turns  int // caller turns that reached generation
	Nudges int
}

// Session is one call's conversation state. All methods are safe for
// concurrent use; inbound audio, the idle timer and the turn goroutine all
// mutate state under one mutex.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	idle   *IdleTimer
	wg     sync.WaitGroup

	mu      sync.Mutex
	phase   Phase
	seg     *Segmenter
	history []llm.Message
	stats   Stats
	closed  bool
}

// New validates cfg and returns a session in [Listening]. ctx scopes
// outbound streaming; cancelling it has the same effect as Close.
func New(ctx context.Context, cfg Config) (*Session, error) {
	switch {
	case cfg.Sink == nil:
		return nil, errors.New("call: Sink must not be nil")
	case cfg.Recognizer == nil:
		return nil, errors.New("call: Recognizer must not be nil")
	case cfg.Generator == nil:
		return nil, errors.New("call: Generator must not be nil")
	case cfg.Synthesizer == nil:
		return nil, errors.New("call: Synthesizer must not be nil")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = energy.New(cfg.VADThreshold)
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultSilenceFrames
	}
	if cfg.IdleDelay == 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = pacer.DefaultFrameSize
	}
	if cfg.FrameCadence <= 0 {
		cfg.FrameCadence = pacer.DefaultCadence
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if cfg.Intn == nil {
		cfg.Intn = rand.IntN
	}
	cfg.Nudges = slices.Clone(cfg.Nudges)

	s := &Session{
		cfg:     cfg,
		log:     slog.With("call_id", cfg.CallID, "stream_id", cfg.StreamID),
		metrics: cfg.Metrics,
		seg:     NewSegmenter(cfg.Classifier, cfg.SilenceFrames),
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.idle = NewIdleTimer(cfg.IdleDelay, s.onIdle)
	context.AfterFunc(s.ctx, s.Close)
	return s, nil
}

// Start arms the idle timer so a silent caller gets nudged.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.phase == Listening {
		s.idle.Schedule()
	}
}

// HandleAudio feeds one inbound frame of 8 kHz linear PCM. Frames arriving
// outside [Listening] are dropped. A frame that completes a turn hands it
// to a new turn goroutine.
func (s *Session) HandleAudio(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != Listening {
		return
	}
	st := s.seg.Push(pcm)
	if st.SpeechStarted {
		s.idle.Cancel()
	}
	if st.Turn != nil {
		s.beginTurnLocked(st.Turn)
	}
}

// Finalize ends the pending turn immediately. It reports whether a turn was
// started; with nothing pending, or outside [Listening], it does nothing.
func (s *Session) Finalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != Listening {
		return false
	}
	turn := s.seg.Drain()
	if turn == nil {
		return false
	}
	s.idle.Cancel()
	s.beginTurnLocked(turn)
	return true
}

// Close ends the session. The idle timer is stopped for good and any reply
// being streamed stops at the next frame. Collaborator calls in flight run
// to completion and their results are discarded. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.idle.Stop()
	s.cancel()
}

// Wait blocks until in-flight turns and nudges have returned.
func (s *Session) Wait() { s.wg.Wait() }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Stats returns the call counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// beginTurnLocked must be called with mu held and phase Listening.
func (s *Session) beginTurnLocked(turn []byte) {
	s.phase = Processing
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTurn(turn)
	}()
}

// onIdle runs on the timer goroutine.
func (s *Session) onIdle() {
	s.mu.Lock()
	if s.closed || s.phase != Listening || s.seg.Heard() || len(s.cfg.Nudges) == 0 {
		s.mu.Unlock()
		return
	}
	line := s.cfg.Nudges[s.cfg.Intn(len(s.cfg.Nudges))]
	s.phase = Processing
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: line})
	s.stats.Nudges++
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.log.Info("call: caller idle, nudging", "nudge", line)
	s.metrics.Nudges.Add(s.ctx, 1)
	s.speak(line)
}

// resume returns the session to Listening and re-arms the idle timer.
func (s *Session) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.phase = Listening
	s.idle.Schedule()
}

// setSpeaking moves Processing to Speaking. It reports false once closed.
func (s *Session) setSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.phase = Speaking
	return true
}

// collaboratorContext detaches from teardown so a hang-up does not abort a
// request half way; the result is dropped instead.
func (s *Session) collaboratorContext() (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(s.ctx)
	if s.cfg.CollaboratorTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	}
	return context.WithCancel(ctx)
}
