package mediastream_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/elderme-design/elderme-server/internal/call"
	"github.com/elderme-design/elderme-server/internal/callstore"
	"github.com/elderme-design/elderme-server/internal/config"
	"github.com/elderme-design/elderme-server/internal/mediastream"
	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
	llmmock "github.com/elderme-design/elderme-server/pkg/provider/llm/mock"
	sttmock "github.com/elderme-design/elderme-server/pkg/provider/stt/mock"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
	ttsmock "github.com/elderme-design/elderme-server/pkg/provider/tts/mock"
	vadmock "github.com/elderme-design/elderme-server/pkg/provider/vad/mock"
)

// μ-law 0x00 decodes to a loud sample and 0xFF to zero, which the mock
// classifier reads as speech and silence.
var (
	speechPayload  = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x00}, 160))
	silencePayload = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
)

type testEnv struct {
	srv     *httptest.Server
	mgr     *mediastream.Manager
	store   *callstore.MemoryStore
	reader  *sdkmetric.ManualReader
	synth   *ttsmock.Synthesizer
	starts  chan mediastream.Start
	mu      sync.Mutex
	session *call.Session
}

func newEnv(t *testing.T, tweak func(*mediastream.Config)) *testEnv {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	env := &testEnv{
		store:  callstore.NewMemoryStore(),
		reader: reader,
		synth:  &ttsmock.Synthesizer{Audio: tts.Audio{PCM: make([]byte, 3200), SampleRate: 8000}},
		starts: make(chan mediastream.Start, 4),
	}
	cfg := mediastream.Config{
		Store:   env.store,
		Metrics: metrics,
		NewSession: func(ctx context.Context, st mediastream.Start, sink pacer.Sink) (*call.Session, error) {
			s, err := call.New(ctx, call.Config{
				CallID:        st.CallID,
				StreamID:      st.StreamID,
				Sink:          sink,
				Recognizer:    &sttmock.Recognizer{Texts: []string{"hello"}},
				Generator:     &llmmock.Generator{Replies: []string{"Hello there!"}},
				Synthesizer:   env.synth,
				Classifier:    &vadmock.Classifier{},
				SilenceFrames: 2,
				IdleDelay:     -1,
				FrameCadence:  time.Millisecond,
				Metrics:       metrics,
			})
			if err != nil {
				return nil, err
			}
			env.mu.Lock()
			env.session = s
			env.mu.Unlock()
			env.starts <- st
			return s, nil
		},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	mgr, err := mediastream.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	env.mgr = mgr
	env.srv = httptest.NewServer(mgr)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) currentSession() *call.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// client is a websocket peer that reads every server message onto a
// channel, so pings are always answered.
type client struct {
	t    *testing.T
	ws   *websocket.Conn
	in   chan map[string]any
	done chan error
}

func (e *testEnv) dial(t *testing.T) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &client{t: t, ws: ws, in: make(chan map[string]any, 256), done: make(chan error, 1)}
	go func() {
		for {
			_, data, err := ws.Read(context.Background())
			if err != nil {
				c.done <- err
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				c.in <- m
			}
		}
	}()
	t.Cleanup(func() { ws.CloseNow() })
	return c
}

func (c *client) sendRaw(s string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) send(v any) {
	c.t.Helper()
	data, _ := json.Marshal(v)
	c.sendRaw(string(data))
}

func (c *client) media(payload string) {
	c.send(map[string]any{"event": "media", "payload": payload})
}

func (c *client) next() map[string]any {
	c.t.Helper()
	select {
	case m := <-c.in:
		return m
	case <-time.After(3 * time.Second):
		c.t.Fatal("timed out waiting for a server message")
		return nil
	}
}

func waitStart(t *testing.T, e *testEnv) mediastream.Start {
	t.Helper()
	select {
	case st := <-e.starts:
		return st
	case <-time.After(3 * time.Second):
		t.Fatal("session was not created")
		return mediastream.Start{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counterSum(t *testing.T, r *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestNewManager_RequiresFactory(t *testing.T) {
	if _, err := mediastream.NewManager(mediastream.Config{}); err == nil {
		t.Error("NewManager succeeded without NewSession")
	}
}

func TestManager_FullCall(t *testing.T) {
	env := newEnv(t, func(c *mediastream.Config) { c.KeepaliveInterval = 20 * time.Millisecond })
	c := env.dial(t)

	c.send(map[string]any{
		"event":     "start",
		"stream_id": "MZ1",
		"metadata":  map[string]any{"call_id": "CA1", "resident": "Ada"},
	})
	st := waitStart(t, env)
	if st.CallID != "CA1" || st.StreamID != "MZ1" || st.Caller["resident"] != "Ada" {
		t.Errorf("start = %+v", st)
	}
	waitFor(t, "call record", func() bool {
		_, err := env.store.Get(context.Background(), "CA1")
		return err == nil
	})

	for range 3 {
		c.media(speechPayload)
	}
	for range 2 {
		c.media(silencePayload)
	}

	for i := range 10 {
		m := c.next()
		if m["event"] != "media" || m["stream_id"] != "MZ1" {
			t.Fatalf("frame %d = %v", i, m)
		}
		media, _ := m["media"].(map[string]any)
		payload, _ := base64.StdEncoding.DecodeString(media["payload"].(string))
		if len(payload) != 160 {
			t.Errorf("frame %d is %d bytes, want 160", i, len(payload))
		}
	}

	waitFor(t, "listening", func() bool { return env.currentSession().Phase() == call.Listening })
	c.send(map[string]any{"event": "stop"})

	waitFor(t, "call finished", func() bool {
		rec, err := env.store.Get(context.Background(), "CA1")
		return err == nil && !rec.Active()
	})
	rec, _ := env.store.Get(context.Background(), "CA1")
	if rec.Turns != 1 || rec.Nudges != 0 {
		t.Errorf("record = %+v, want 1 turn", rec)
	}
	if !env.currentSession().Closed() {
		t.Error("session not closed after stop")
	}
	if n := counterSum(t, env.reader, "elderme.calls.active"); n != 0 {
		t.Errorf("active calls = %d after stop, want 0", n)
	}
	if n := counterSum(t, env.reader, "elderme.frames.sent"); n != 10 {
		t.Errorf("frames sent = %d, want 10", n)
	}
}

func TestManager_TwilioDialect(t *testing.T) {
	env := newEnv(t, func(c *mediastream.Config) { c.Dialect = config.DialectTwilio })
	c := env.dial(t)

	c.sendRaw(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	c.sendRaw(`{"event":"start","streamSid":"MZ9","start":{"streamSid":"MZ9","callSid":"CA9","customParameters":{"resident":"Bo"}}}`)
	st := waitStart(t, env)
	if st.CallID != "CA9" || st.StreamID != "MZ9" || st.Caller["resident"] != "Bo" {
		t.Errorf("start = %+v", st)
	}

	for _, p := range []string{speechPayload, silencePayload, silencePayload} {
		c.send(map[string]any{"event": "media", "streamSid": "MZ9", "media": map[string]any{"payload": p}})
	}
	m := c.next()
	if m["streamSid"] != "MZ9" {
		t.Errorf("outbound = %v, want streamSid key", m)
	}
	if _, ok := m["stream_id"]; ok {
		t.Errorf("outbound carries stream_id in twilio dialect: %v", m)
	}
}

func TestManager_MalformedMessagesDropped(t *testing.T) {
	env := newEnv(t, nil)
	c := env.dial(t)

	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)

	c.sendRaw(`not json`)
	c.sendRaw(`{"stream_id":"MZ1"}`)
	c.sendRaw(`{"event":"media","payload":"%%%"}`)
	c.sendRaw(`{"event":"mark","mark":{"name":"x"}}`)

	// The connection survives and still serves the call.
	c.media(speechPayload)
	c.media(silencePayload)
	c.media(silencePayload)
	if m := c.next(); m["event"] != "media" {
		t.Errorf("reply = %v", m)
	}

	if n := counterSum(t, env.reader, "elderme.stream.malformed"); n != 3 {
		t.Errorf("malformed = %d, want 3", n)
	}
}

func TestManager_MediaBeforeStartIgnored(t *testing.T) {
	env := newEnv(t, nil)
	c := env.dial(t)

	c.media(speechPayload)
	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)
	c.media(silencePayload)
	c.media(silencePayload)

	select {
	case m := <-c.in:
		t.Errorf("unexpected reply %v to audio sent before start", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	env := newEnv(t, nil)
	c := env.dial(t)

	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)
	c.send(map[string]any{"event": "stop"})
	c.send(map[string]any{"event": "stop"})
	c.send(map[string]any{"event": "start", "stream_id": "MZ2"})
	c.ws.Close(websocket.StatusNormalClosure, "bye")

	waitFor(t, "connection removed", func() bool { return env.mgr.Len() == 0 })
	select {
	case st := <-env.starts:
		t.Errorf("start after stop created a session: %+v", st)
	default:
	}
	if n := counterSum(t, env.reader, "elderme.calls.active"); n != 0 {
		t.Errorf("active calls = %d, want 0", n)
	}
}

func TestManager_SocketCloseEndsCall(t *testing.T) {
	env := newEnv(t, nil)
	c := env.dial(t)

	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)
	c.ws.Close(websocket.StatusNormalClosure, "hangup")

	waitFor(t, "session closed", func() bool { return env.currentSession().Closed() })
	waitFor(t, "call finished", func() bool {
		rec, err := env.store.Get(context.Background(), "MZ1")
		return err == nil && !rec.Active()
	})
}

func TestManager_StartWithoutIDsUsesConnID(t *testing.T) {
	env := newEnv(t, nil)

	ids := map[string]bool{}
	for range 2 {
		c := env.dial(t)
		c.send(map[string]any{"event": "start"})
		st := waitStart(t, env)
		if st.CallID == "" {
			t.Fatal("start without ids produced an empty call id")
		}
		ids[st.CallID] = true
		waitFor(t, "call record", func() bool {
			_, err := env.store.Get(context.Background(), st.CallID)
			return err == nil
		})
	}
	if len(ids) != 2 {
		t.Errorf("call ids = %v, want two distinct", ids)
	}
	recs, err := env.store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("store holds %d records, want 2", len(recs))
	}
}

// slowStore blocks Start until release is closed.
type slowStore struct {
	*callstore.MemoryStore
	release chan struct{}
}

func (s *slowStore) Start(ctx context.Context, rec callstore.Record) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryStore.Start(ctx, rec)
}

func TestManager_SlowStoreDoesNotBlockMedia(t *testing.T) {
	store := &slowStore{MemoryStore: callstore.NewMemoryStore(), release: make(chan struct{})}
	env := newEnv(t, func(c *mediastream.Config) { c.Store = store })
	c := env.dial(t)

	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)
	for range 3 {
		c.media(speechPayload)
	}
	for range 2 {
		c.media(silencePayload)
	}

	// The reply is heard while the start write is still pending.
	if m := c.next(); m["event"] != "media" {
		t.Fatalf("first server message = %v, want media", m)
	}
	if _, err := store.Get(context.Background(), "MZ1"); !errors.Is(err, callstore.ErrNotFound) {
		t.Fatalf("record written before release: %v", err)
	}

	c.send(map[string]any{"event": "stop"})
	waitFor(t, "session closed", func() bool { return env.currentSession().Closed() })
	close(store.release)

	waitFor(t, "call finished", func() bool {
		rec, err := store.Get(context.Background(), "MZ1")
		return err == nil && !rec.Active()
	})
}

func TestManager_SessionFactoryError(t *testing.T) {
	env := newEnv(t, func(c *mediastream.Config) {
		c.NewSession = func(context.Context, mediastream.Start, pacer.Sink) (*call.Session, error) {
			return nil, errors.New("no providers")
		}
	})
	c := env.dial(t)
	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	c.media(speechPayload)

	// The socket stays up; only the call is missing.
	waitFor(t, "registered", func() bool { return env.mgr.Len() == 1 })
	if _, err := env.store.Get(context.Background(), "MZ1"); !errors.Is(err, callstore.ErrNotFound) {
		t.Errorf("record created for a failed session: %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	env := newEnv(t, nil)
	c := env.dial(t)
	c.send(map[string]any{"event": "start", "stream_id": "MZ1"})
	waitStart(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := env.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-c.done:
		if s := websocket.CloseStatus(err); s != websocket.StatusGoingAway {
			t.Errorf("close status = %v, want going away", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client not disconnected")
	}
	if !env.currentSession().Closed() {
		t.Error("session still open after Shutdown")
	}
	if env.mgr.Len() != 0 {
		t.Errorf("Len = %d after Shutdown", env.mgr.Len())
	}

	resp, err := http.Get(env.srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("new connection status = %d, want 503", resp.StatusCode)
	}
	if err := env.mgr.Shutdown(ctx); !errors.Is(err, mediastream.ErrShuttingDown) {
		t.Errorf("second Shutdown = %v, want ErrShuttingDown", err)
	}
}
