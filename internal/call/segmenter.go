package call

import "github.com/elderme-design/elderme-server/pkg/provider/vad"

// Step is the outcome of feeding one frame to a [Segmenter].
type Step struct {
	Speech bool
	Energy float64

	// SpeechStarted is set on the first speech frame of a turn.
	SpeechStarted bool

	// Turn is non-nil when this frame completed the trailing silence. It
	// holds the turn's PCM without that trailing silence.
	Turn []byte
}

// Segmenter splits a caller's PCM frames into turns. Accumulation starts at
// the first speech frame; silence inside a turn is kept so pauses between
// words survive, and a run of silenceFrames consecutive non-speech frames
// ends the turn. Not safe for concurrent use.
type Segmenter struct {
	classifier    vad.Classifier
	silenceFrames int

	heard      bool
	silenceRun int
	pending    []byte
	speechEnd  int // len(pending) after the latest speech frame
}

// NewSegmenter returns a segmenter. silenceFrames below 1 is treated as 1.
func NewSegmenter(c vad.Classifier, silenceFrames int) *Segmenter {
	return &Segmenter{classifier: c, silenceFrames: max(silenceFrames, 1)}
}

// Push classifies frame and advances the turn state.
func (s *Segmenter) Push(frame []byte) Step {
	r := s.classifier.Classify(frame)
	st := Step{Speech: r.IsSpeech, Energy: r.Energy}

	if r.IsSpeech {
		if !s.heard {
			s.heard = true
			st.SpeechStarted = true
		}
		s.silenceRun = 0
		s.pending = append(s.pending, frame...)
		s.speechEnd = len(s.pending)
		return st
	}

	if !s.heard {
		return st
	}
	s.silenceRun++
	s.pending = append(s.pending, frame...)
	if s.silenceRun >= s.silenceFrames {
		st.Turn = s.Drain()
	}
	return st
}

// Drain returns the pending turn, trimmed of trailing silence, and resets
// the segmenter. It returns nil when nothing has been heard.
func (s *Segmenter) Drain() []byte {
	turn := s.pending[:s.speechEnd:s.speechEnd]
	s.pending = nil
	s.heard = false
	s.silenceRun = 0
	s.speechEnd = 0
	if len(turn) == 0 {
		return nil
	}
	return turn
}

// Heard reports whether the current turn has seen speech.
func (s *Segmenter) Heard() bool { return s.heard }

// Pending is the number of buffered bytes, trailing silence included.
func (s *Segmenter) Pending() int { return len(s.pending) }
