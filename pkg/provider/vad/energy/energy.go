// Package energy implements a root-mean-square energy voice activity detector.
//
// Samples are normalised to [-1, 1) by dividing by 32768 before the RMS is
// taken, so the threshold is independent of frame length and sample width.
// A frame is speech when its energy is strictly greater than the threshold.
package energy

import (
	"encoding/binary"
	"math"

	"github.com/elderme-design/elderme-server/pkg/provider/vad"
)

// DefaultThreshold is tuned for 8 kHz telephony audio.
const DefaultThreshold = 0.015

// Classifier is an RMS energy detector. The zero value uses [DefaultThreshold].
type Classifier struct {
	threshold float64
}

var _ vad.Classifier = (*Classifier)(nil)

// New returns a Classifier with the given threshold. A threshold ≤ 0 selects
// [DefaultThreshold].
func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Threshold returns the speech threshold in use.
func (c *Classifier) Threshold() float64 {
	if c.threshold <= 0 {
		return DefaultThreshold
	}
	return c.threshold
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(pcm []byte) vad.Result {
	e := RMS(pcm)
	return vad.Result{IsSpeech: e > c.Threshold(), Energy: e}
}

// RMS returns the normalised root-mean-square energy of pcm. It returns 0
// for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
