package mediastream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
)

// sender writes paced frames to one websocket. It is the session's
// [pacer.Sink]; once closed, IsOpen reports false and the pacer stops.
type sender struct {
	ws        *websocket.Conn
	streamKey string

	streamID atomic.Value // string
	closed   atomic.Bool
}

var _ pacer.Sink = (*sender)(nil)

func newSender(ws *websocket.Conn, streamKey string) *sender {
	s := &sender{ws: ws, streamKey: streamKey}
	s.streamID.Store("")
	return s
}

func (s *sender) setStream(id string) { s.streamID.Store(id) }

func (s *sender) IsOpen() bool { return !s.closed.Load() }

func (s *sender) SendFrame(ctx context.Context, frame []byte) error {
	data, err := encodeFrame(s.streamKey, s.streamID.Load().(string), frame)
	if err != nil {
		return fmt.Errorf("mediastream: encode frame: %w", err)
	}
	if err := s.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("mediastream: write frame: %w", err)
	}
	return nil
}

func (s *sender) close() { s.closed.Store(true) }
