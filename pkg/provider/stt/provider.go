// Package stt defines the speech recognition interface used to transcribe one
// finished caller turn.
//
// Turns are segmented upstream by the call state machine, so recognisers work
// in batch mode: a complete utterance goes in and a transcript comes out. An
// empty transcript and an error are treated the same way by callers, as "no
// usable transcript", but implementations should still return errors for
// transport and decoding failures so they can be logged and counted.
package stt

import "context"

// Recognizer transcribes a single utterance.
//
// Implementations must be safe for concurrent use; one Recognizer is shared
// by every active call.
type Recognizer interface {
	// Transcribe converts signed 16-bit little-endian mono PCM sampled at
	// sampleRate Hz into text. It returns "" when nothing intelligible was
	// said.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
