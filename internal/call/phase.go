package call

import "fmt"

// Phase is where a call is in its listen, think, reply cycle.
type Phase int

const (
	// Listening accepts caller audio into the pending turn.
	Listening Phase = iota
	// Processing runs recognition and generation. Caller audio is dropped.
	Processing
	// Speaking streams the reply. Caller audio is dropped.
	Speaking
)

func (p Phase) String() string {
	switch p {
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}
