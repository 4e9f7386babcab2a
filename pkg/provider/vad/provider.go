// Package vad defines the voice activity detection interface used to split a
// caller's audio into turns.
//
// A Classifier is stateless per frame: it labels one frame as speech or
// silence and reports the measured energy. Run-length logic such as "how many
// silent frames in a row" belongs to the caller, which keeps classifiers
// shareable across concurrent calls.
package vad

// Result is the classification of a single PCM frame.
type Result struct {
	// IsSpeech is true when the frame is above the detector's threshold.
	IsSpeech bool

	// Energy is the detector's measurement for the frame, in the detector's
	// native scale. For the energy detector this is normalised RMS in [0, 1].
	Energy float64
}

// Classifier labels PCM frames as speech or silence.
//
// Implementations must be safe for concurrent use and must not retain pcm.
type Classifier interface {
	// Classify inspects one frame of signed 16-bit little-endian mono PCM.
	// Empty input is silence with zero energy.
	Classify(pcm []byte) Result
}

// ClassifierFunc adapts a plain function to [Classifier].
type ClassifierFunc func(pcm []byte) Result

// Classify calls f(pcm).
func (f ClassifierFunc) Classify(pcm []byte) Result { return f(pcm) }
