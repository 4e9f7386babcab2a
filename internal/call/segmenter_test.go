package call

import (
	"bytes"
	"testing"

	vadmock "github.com/elderme-design/elderme-server/pkg/provider/vad/mock"
)

// speechFrame returns a 320-byte frame the mock classifier labels speech.
func speechFrame(tag byte) []byte {
	f := make([]byte, 320)
	f[0] = 1
	f[1] = tag
	return f
}

func silenceFrame() []byte { return make([]byte, 320) }

func TestSegmenter_FinalizesExactlyOnce(t *testing.T) {
	const n, threshold = 7, 12
	seg := NewSegmenter(&vadmock.Classifier{}, threshold)

	var want []byte
	for i := 0; i < n; i++ {
		f := speechFrame(byte(i))
		want = append(want, f...)
		if st := seg.Push(f); st.Turn != nil {
			t.Fatalf("turn finalized early at speech frame %d", i)
		}
	}

	var turns [][]byte
	for i := 0; i < threshold; i++ {
		if st := seg.Push(silenceFrame()); st.Turn != nil {
			turns = append(turns, st.Turn)
		}
	}
	if len(turns) != 1 {
		t.Fatalf("finalized %d times, want 1", len(turns))
	}
	if !bytes.Equal(turns[0], want) {
		t.Errorf("turn is %d bytes, want the %d speech bytes only", len(turns[0]), len(want))
	}
	if seg.Heard() || seg.Pending() != 0 {
		t.Errorf("segmenter not reset: heard=%v pending=%d", seg.Heard(), seg.Pending())
	}
}

func TestSegmenter_LeadingSilenceIgnored(t *testing.T) {
	seg := NewSegmenter(&vadmock.Classifier{}, 2)
	for i := 0; i < 50; i++ {
		if st := seg.Push(silenceFrame()); st.Turn != nil || st.SpeechStarted {
			t.Fatal("silence alone must not start or finalize a turn")
		}
	}
	if seg.Pending() != 0 {
		t.Errorf("pending = %d, want 0", seg.Pending())
	}
}

func TestSegmenter_KeepsPausesInsideTurn(t *testing.T) {
	seg := NewSegmenter(&vadmock.Classifier{}, 3)
	a, b := speechFrame(1), speechFrame(2)

	seg.Push(a)
	seg.Push(silenceFrame())
	seg.Push(silenceFrame()) // short pause, below threshold
	seg.Push(b)

	var turn []byte
	for i := 0; i < 3; i++ {
		if st := seg.Push(silenceFrame()); st.Turn != nil {
			turn = st.Turn
		}
	}
	want := append(append(append([]byte{}, a...), make([]byte, 640)...), b...)
	if !bytes.Equal(turn, want) {
		t.Errorf("turn = %d bytes, want %d (speech, pause, speech)", len(turn), len(want))
	}
}

func TestSegmenter_SpeechStartedOncePerTurn(t *testing.T) {
	seg := NewSegmenter(&vadmock.Classifier{}, 1)
	starts := 0
	for _, f := range [][]byte{speechFrame(1), speechFrame(2), silenceFrame(), speechFrame(3)} {
		if seg.Push(f).SpeechStarted {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("SpeechStarted fired %d times, want 2 (one per turn)", starts)
	}
}

func TestSegmenter_DrainEmpty(t *testing.T) {
	seg := NewSegmenter(&vadmock.Classifier{}, 12)
	if got := seg.Drain(); got != nil {
		t.Errorf("Drain on empty = %v, want nil", got)
	}
}

func TestSegmenter_ZeroThresholdTreatedAsOne(t *testing.T) {
	seg := NewSegmenter(&vadmock.Classifier{}, 0)
	seg.Push(speechFrame(1))
	if st := seg.Push(silenceFrame()); st.Turn == nil {
		t.Error("one silence frame should end the turn when threshold < 1")
	}
}

func TestPhase_String(t *testing.T) {
	for p, want := range map[Phase]string{
		Listening:  "listening",
		Processing: "processing",
		Speaking:   "speaking",
		Phase(7):   "Phase(7)",
	} {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}
