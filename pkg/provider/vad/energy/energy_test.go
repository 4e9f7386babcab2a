package energy_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/elderme-design/elderme-server/pkg/provider/vad/energy"
)

// constantFrame builds a 20 ms 8 kHz frame where every sample is amp with
// alternating sign.
func constantFrame(amp int16) []byte {
	buf := make([]byte, 320)
	for i := range 160 {
		s := amp
		if i%2 == 1 {
			s = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestClassify_ZeroFrame(t *testing.T) {
	c := energy.New(0)
	got := c.Classify(make([]byte, 320))
	if got.IsSpeech || got.Energy != 0 {
		t.Errorf("zero frame = %+v, want silence with zero energy", got)
	}
}

func TestClassify_EmptyInput(t *testing.T) {
	var c energy.Classifier
	for _, in := range [][]byte{nil, {}, {0x7f}} {
		got := c.Classify(in)
		if got.IsSpeech || got.Energy != 0 {
			t.Errorf("Classify(%v) = %+v, want silence with zero energy", in, got)
		}
	}
}

func TestClassify_Threshold(t *testing.T) {
	c := energy.New(energy.DefaultThreshold)

	// 0.015 * 32768 ≈ 491.5
	if got := c.Classify(constantFrame(400)); got.IsSpeech {
		t.Errorf("amplitude 400 classified as speech (energy %.4f)", got.Energy)
	}
	if got := c.Classify(constantFrame(3000)); !got.IsSpeech {
		t.Errorf("amplitude 3000 classified as silence (energy %.4f)", got.Energy)
	}
}

func TestClassify_StrictlyGreater(t *testing.T) {
	frame := constantFrame(16384)
	e := energy.RMS(frame)
	if math.Abs(e-0.5) > 1e-9 {
		t.Fatalf("RMS = %v, want 0.5", e)
	}
	if energy.New(e).Classify(frame).IsSpeech {
		t.Error("energy equal to threshold must not be speech")
	}
}

func TestRMS_MonotonicInAmplitude(t *testing.T) {
	prev := -1.0
	for amp := 0; amp <= 32767; amp += 97 {
		e := energy.RMS(constantFrame(int16(amp)))
		if e < prev {
			t.Fatalf("energy decreased at amplitude %d: %v < %v", amp, e, prev)
		}
		prev = e
	}
}

func TestNew_DefaultThreshold(t *testing.T) {
	if got := energy.New(-1).Threshold(); got != energy.DefaultThreshold {
		t.Errorf("Threshold() = %v, want %v", got, energy.DefaultThreshold)
	}
	if got := energy.New(0.2).Threshold(); got != 0.2 {
		t.Errorf("Threshold() = %v, want 0.2", got)
	}
}
