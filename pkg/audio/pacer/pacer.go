// Package pacer streams encoded audio onto a live connection at the real-time
// cadence the far end plays it out at.
//
// Frames are sent one per tick against an absolute schedule so that slow
// writes do not accumulate drift. Waiting is done on a timer inside the
// calling goroutine; other calls are never blocked by it.
package pacer

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultFrameSize is 20 ms of 8 kHz μ-law audio.
	DefaultFrameSize = 160

	// DefaultCadence is the interval between frames.
	DefaultCadence = 20 * time.Millisecond
)

// Sink is the outbound half of a call connection.
type Sink interface {
	// IsOpen reports whether the connection can still accept frames. Once it
	// returns false it must never return true again.
	IsOpen() bool

	// SendFrame writes one frame as a single outbound message.
	SendFrame(ctx context.Context, frame []byte) error
}

// Option configures [Stream].
type Option func(*config)

type config struct {
	frameSize int
	cadence   time.Duration
}

// WithFrameSize sets the number of bytes per frame. Values ≤ 0 are ignored.
func WithFrameSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithCadence sets the interval between frames. Values ≤ 0 are ignored.
func WithCadence(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cadence = d
		}
	}
}

// Result summarises a [Stream] call.
type Result struct {
	// Frames is the number of frames handed to the sink.
	Frames int

	// Interrupted is true when the stream ended before the whole payload was
	// sent, because the connection closed, a send failed or ctx was done.
	Interrupted bool
}

// Stream slices payload into frames and sends them to sink, waiting one
// cadence between consecutive frames. The last frame may be shorter than the
// frame size; it is sent as-is without padding.
//
// A sink that reports itself closed ends the stream early with a nil error:
// the caller hanging up mid-reply is expected. Send failures and context
// cancellation also end the stream early and are returned.
func Stream(ctx context.Context, sink Sink, payload []byte, opts ...Option) (Result, error) {
	cfg := config{frameSize: DefaultFrameSize, cadence: DefaultCadence}
	for _, o := range opts {
		o(&cfg)
	}

	total := (len(payload) + cfg.frameSize - 1) / cfg.frameSize
	var res Result

	timer := time.NewTimer(cfg.cadence)
	defer timer.Stop()

	start := time.Now()
	for i := range total {
		if i > 0 {
			next := start.Add(time.Duration(i) * cfg.cadence)
			timer.Reset(time.Until(next))
			select {
			case <-ctx.Done():
				res.Interrupted = true
				return res, ctx.Err()
			case <-timer.C:
			}
		}

		if !sink.IsOpen() {
			res.Interrupted = true
			return res, nil
		}

		lo := i * cfg.frameSize
		hi := min(lo+cfg.frameSize, len(payload))
		if err := sink.SendFrame(ctx, payload[lo:hi]); err != nil {
			res.Interrupted = true
			return res, fmt.Errorf("pacer: send frame %d/%d: %w", i+1, total, err)
		}
		res.Frames++
	}
	return res, nil
}
