// Package mock provides a test double for [tts.Synthesizer].
//
// By default every call returns Audio; set Err to simulate provider failure.
// Texts records what was spoken so tests can assert on replies and nudges.
package mock

import (
	"context"
	"sync"

	"github.com/elderme-design/elderme-server/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by every successful call.
	Audio tts.Audio

	// Err, if non-nil, is returned from every call.
	Err error

	// Texts records the text of every call in order.
	Texts []string
}

// Synthesize records text and returns Audio, Err.
func (s *Synthesizer) Synthesize(_ context.Context, text string) (tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return tts.Audio{}, s.Err
	}
	return s.Audio, nil
}

// Spoken returns a copy of the recorded texts. Thread-safe.
func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Texts...)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
