// Package mediastream accepts telephony media streams over websocket and
// runs one [call.Session] per stream.
//
// Each connection reads messages on one goroutine, so a session sees its
// inbound events in order. A keepalive ping runs beside the reader. The
// [Manager] is the registry of live connections and is the only place they
// are tracked.
package mediastream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/elderme-design/elderme-server/internal/call"
	"github.com/elderme-design/elderme-server/internal/callstore"
	"github.com/elderme-design/elderme-server/internal/config"
	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
)

// ErrShuttingDown is returned by Shutdown when the manager is already
// stopping.
var ErrShuttingDown = errors.New("mediastream: shutting down")

// Start describes a stream as announced by its start message. CallID
// falls back to the connection id when the message names no call or
// stream.
type Start struct {
	CallID   string
	StreamID string
	Caller   map[string]string
}

// SessionFactory builds the session for a newly started stream. sink is
// the stream's outbound side. ctx ends when the connection does.
type SessionFactory func(ctx context.Context, start Start, sink pacer.Sink) (*call.Session, error)

// Config configures a [Manager].
type Config struct {
	NewSession SessionFactory

	// Dialect selects the outbound stream id key.
	Dialect config.Dialect

	// KeepaliveInterval between pings. Zero disables keepalive.
	KeepaliveInterval time.Duration

	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64

	// Store, if set, receives a record per call.
	Store callstore.Store

	Metrics *observe.Metrics

	// OriginPatterns are passed to websocket.Accept. Media streams come
	// from telephony providers rather than browsers, so by default the
	// origin is not checked.
	OriginPatterns []string
}

// Manager is the registry of live media stream connections.
type Manager struct {
	cfg     Config
	metrics *observe.Metrics

	mu       sync.Mutex
	conns    map[string]*Conn
	draining bool
	wg       sync.WaitGroup
}

// NewManager returns a manager. cfg.NewSession is required.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NewSession == nil {
		return nil, errors.New("mediastream: NewSession must not be nil")
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = config.DefaultReadLimit
	}
	m := &Manager{cfg: cfg, metrics: cfg.Metrics, conns: make(map[string]*Conn)}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m, nil
}

// ServeHTTP upgrades the request to a websocket and serves the stream
// until either side closes it.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	opts := &websocket.AcceptOptions{OriginPatterns: m.cfg.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("mediastream: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(m.cfg.ReadLimit)

	c := newConn(uuid.NewString(), ws, m)
	m.register(c)
	defer m.unregister(c.id)

	c.serve(r.Context())
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown refuses new streams, closes every live one and waits for their
// handlers to return or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.draining = true
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.stop()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) register(c *Conn) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *Manager) streamKey() string {
	if m.cfg.Dialect == config.DialectTwilio {
		return "streamSid"
	}
	return "stream_id"
}
