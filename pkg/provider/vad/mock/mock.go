// Package mock provides a test double for [vad.Classifier].
//
// The mock labels frames by a caller-supplied predicate, or by whether the
// first byte is non-zero when no predicate is set. That makes it easy to build
// synthetic speech and silence frames in tests:
//
//	c := &mock.Classifier{}
//	c.Classify([]byte{1, 0}) // speech
//	c.Classify([]byte{0, 0}) // silence
package mock

import (
	"bytes"
	"sync"

	"github.com/elderme-design/elderme-server/pkg/provider/vad"
)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// SpeechFunc decides whether a frame is speech. If nil, a frame is speech
	// when its first byte is non-zero.
	SpeechFunc func(pcm []byte) bool

	// Frames records a copy of every classified frame in order.
	Frames [][]byte
}

// Classify records the frame and labels it.
func (c *Classifier) Classify(pcm []byte) vad.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, bytes.Clone(pcm))

	speech := len(pcm) > 0 && pcm[0] != 0
	if c.SpeechFunc != nil {
		speech = c.SpeechFunc(pcm)
	}
	if speech {
		return vad.Result{IsSpeech: true, Energy: 1}
	}
	return vad.Result{}
}

// CallCount returns the number of classified frames. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

var _ vad.Classifier = (*Classifier)(nil)
