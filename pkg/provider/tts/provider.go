// Package tts defines the speech synthesis interface used to voice the
// agent's replies and idle nudges.
//
// Synthesis is batch: one line of text in, one PCM buffer out. Replies on a
// phone call are a sentence or two, and the frame pacer needs the whole buffer
// to schedule playback, so there is nothing to gain from streaming here.
package tts

import (
	"context"

	"github.com/elderme-design/elderme-server/pkg/audio"
)

// Audio is synthesised speech.
type Audio struct {
	// PCM is signed 16-bit little-endian mono audio.
	PCM []byte

	// SampleRate is the rate of PCM in Hz. Callers resample to the call's
	// rate when it differs.
	SampleRate int
}

// Format returns the audio format of a.
func (a Audio) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: 1}
}

// Synthesizer converts text to speech.
//
// Implementations must be safe for concurrent use; one Synthesizer is shared
// by every active call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}
