// Package mock provides a test double for [stt.Recognizer].
//
// Example:
//
//	r := &mock.Recognizer{Texts: []string{"hello"}}
//	text, _ := r.Transcribe(ctx, pcm, 8000)
package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/elderme-design/elderme-server/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	PCM        []byte
	SampleRate int
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Texts are returned in order. Once exhausted, the last text repeats.
	Texts []string

	// Err, if non-nil, is returned from every call.
	Err error

	// Block, if non-nil, is received from before returning. Close it to
	// release blocked calls.
	Block chan struct{}

	// Calls records every call in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted text.
func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	r.mu.Lock()
	n := len(r.Calls)
	r.Calls = append(r.Calls, TranscribeCall{PCM: bytes.Clone(pcm), SampleRate: sampleRate})
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	if len(r.Texts) == 0 {
		return "", nil
	}
	return r.Texts[min(n, len(r.Texts)-1)], nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

var _ stt.Recognizer = (*Recognizer)(nil)
