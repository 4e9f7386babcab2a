package mediastream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/elderme-design/elderme-server/internal/call"
	"github.com/elderme-design/elderme-server/internal/callstore"
	"github.com/elderme-design/elderme-server/pkg/audio/mulaw"
)

// storeTimeout bounds each call store write.
const storeTimeout = 5 * time.Second

// Conn is one media stream websocket and the call it carries.
type Conn struct {
	id  string
	ws  *websocket.Conn
	m   *Manager
	out *sender
	log *slog.Logger

	// bg carries call store writes so a slow store never stalls the
	// reader. Finish waits on started so it lands after Start.
	bg     errgroup.Group
	halted chan struct{} // closed once stop has queued its writes

	mu      sync.Mutex
	session *call.Session
	record  callstore.Record
	started chan struct{}
	stopped bool
}

func newConn(id string, ws *websocket.Conn, m *Manager) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		m:      m,
		out:    newSender(ws, m.streamKey()),
		log:    slog.With("conn_id", id),
		halted: make(chan struct{}),
	}
}

// serve runs the reader and keepalive until the socket closes, then tears
// the call down and waits for pending store writes.
func (c *Conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	if iv := c.m.cfg.KeepaliveInterval; iv > 0 {
		g.Go(func() error {
			c.keepalive(gctx, iv)
			return nil
		})
	}
	err := g.Wait()
	c.stop()
	<-c.halted
	_ = c.bg.Wait()

	if err != nil && !isClosed(err) {
		c.log.Warn("mediastream: connection ended", "err", err)
		c.ws.Close(websocket.StatusInternalError, "")
		return
	}
	c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		c.handle(ctx, data)
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.malformed(ctx, err)
		return
	}
	switch msg.Event {
	case EventStart:
		c.start(ctx, msg)
	case EventMedia:
		c.media(ctx, msg)
	case EventStop:
		c.stop()
	default:
		c.log.Debug("mediastream: ignoring event", "event", msg.Event)
	}
}

func (c *Conn) start(ctx context.Context, msg Message) {
	st := Start{CallID: msg.CallID(), StreamID: msg.Stream(), Caller: msg.Caller()}
	if st.CallID == "" {
		st.CallID = c.id
	}

	c.mu.Lock()
	if c.stopped || c.session != nil {
		c.mu.Unlock()
		c.log.Debug("mediastream: ignoring start", "stream_id", st.StreamID)
		return
	}
	c.out.setStream(st.StreamID)
	sess, err := c.m.cfg.NewSession(ctx, st, c.out)
	if err != nil {
		c.mu.Unlock()
		c.log.Error("mediastream: create session", "call_id", st.CallID, "err", err)
		return
	}
	c.session = sess
	c.record = callstore.Record{
		ID:        st.CallID,
		StreamID:  st.StreamID,
		Caller:    st.Caller,
		StartedAt: time.Now(),
	}
	rec := c.record
	store := c.m.cfg.Store
	if store != nil {
		c.started = make(chan struct{})
	}
	started := c.started
	c.mu.Unlock()

	sess.Start()
	c.m.metrics.ActiveCalls.Add(ctx, 1)
	c.log.Info("mediastream: call started", "call_id", st.CallID, "stream_id", st.StreamID)

	if store == nil {
		return
	}
	wctx := context.WithoutCancel(ctx)
	c.bg.Go(func() error {
		defer close(started)
		sctx, cancel := context.WithTimeout(wctx, storeTimeout)
		defer cancel()
		if err := store.Start(sctx, rec); err != nil {
			c.log.Warn("mediastream: record call start", "call_id", rec.ID, "err", err)
		}
		return nil
	})
}

func (c *Conn) media(ctx context.Context, msg Message) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		c.log.Debug("mediastream: media before start, dropped")
		return
	}
	ulaw, err := msg.Audio()
	if err != nil {
		c.malformed(ctx, err)
		return
	}
	if len(ulaw) == 0 {
		return
	}
	sess.HandleAudio(mulaw.Decode(ulaw))
}

// stop ends the call. It is safe to call more than once and from any
// goroutine.
func (c *Conn) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sess, rec, started := c.session, c.record, c.started
	c.mu.Unlock()
	defer close(c.halted)

	c.out.close()
	if sess == nil {
		return
	}
	sess.Close()

	ended := time.Now()
	st := sess.Stats()
	c.m.metrics.ActiveCalls.Add(context.Background(), -1)
	c.log.Info("mediastream: call ended",
		"call_id", rec.ID,
		"duration", ended.Sub(rec.StartedAt).Round(time.Millisecond),
		"turns", st.Turns,
		"nudges", st.Nudges,
	)

	store := c.m.cfg.Store
	if store == nil {
		return
	}
	c.bg.Go(func() error {
		<-started
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := store.Finish(ctx, rec.ID, ended, st.Turns, st.Nudges); err != nil {
			c.log.Warn("mediastream: record call end", "call_id", rec.ID, "err", err)
		}
		return nil
	})
}

// keepalive pings until ctx ends. A failed ping is logged and the loop
// carries on; the reader notices a dead socket on its own.
func (c *Conn) keepalive(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, every)
		err := c.ws.Ping(pctx)
		cancel()
		if err != nil && ctx.Err() == nil {
			c.log.Warn("mediastream: keepalive ping failed", "err", err)
		}
	}
}

func (c *Conn) malformed(ctx context.Context, err error) {
	reason := reasonJSON
	var me *malformedError
	if errors.As(err, &me) {
		reason = me.reason
	}
	c.m.metrics.RecordMalformed(ctx, reason)
	c.log.Debug("mediastream: dropped message", "reason", reason, "err", err)
}

func isClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
