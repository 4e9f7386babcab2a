// Package app wires the server together: provider failover groups, the call
// store, the media stream manager and the HTTP surface.
//
// New builds everything synchronously, Serve and Run handle traffic until
// their context ends, and Shutdown releases what New opened. Tests inject
// doubles with the With* options.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elderme-design/elderme-server/internal/call"
	"github.com/elderme-design/elderme-server/internal/callstore"
	"github.com/elderme-design/elderme-server/internal/config"
	"github.com/elderme-design/elderme-server/internal/health"
	"github.com/elderme-design/elderme-server/internal/mediastream"
	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/pkg/audio/pacer"
	"github.com/elderme-design/elderme-server/pkg/provider/llm"
	"github.com/elderme-design/elderme-server/pkg/provider/stt"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
	"github.com/elderme-design/elderme-server/pkg/provider/vad"
)

// Providers holds the conversation collaborators, usually failover groups
// built by main from the provider registry.
type Providers struct {
	STT stt.Recognizer
	LLM llm.Completer
	TTS tts.Synthesizer
}

// App owns the server's subsystems.
type App struct {
	cfg       *config.Config
	current   func() *config.Config
	providers *Providers

	store      callstore.Store
	metrics    *observe.Metrics
	classifier func(threshold float64) vad.Classifier
	health     *health.Handler
	media      *mediastream.Manager
	handler    http.Handler

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures [New].
type Option func(*App)

// WithCallStore injects a call store instead of building one from config.
func WithCallStore(s callstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics replaces the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigSource makes new calls read their tunables from fn, typically
// a [config.Watcher]'s Current, so reloads apply to the next call.
func WithConfigSource(fn func() *config.Config) Option {
	return func(a *App) { a.current = fn }
}

// WithClassifier overrides the per-call voice activity detector.
func WithClassifier(fn func(threshold float64) vad.Classifier) Option {
	return func(a *App) { a.classifier = fn }
}

// New builds the application. cfg must already carry defaults.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.current == nil {
		a.current = func() *config.Config { return a.cfg }
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init call store: %w", err)
	}

	a.health = health.New(health.Checker{Name: "callstore", Check: a.store.Ping})

	media, err := mediastream.NewManager(mediastream.Config{
		NewSession:        a.newSession,
		Dialect:           cfg.Stream.Dialect,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		ReadLimit:         cfg.Stream.ReadLimit,
		Store:             a.store,
		Metrics:           a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init media streams: %w", err)
	}
	a.media = media

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.MediaPath, a.media)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /calls", a.handleCalls)
	mux.HandleFunc("GET /calls/{id}", a.handleCall)
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Info("call records kept in memory")
		a.store = callstore.NewMemoryStore()
		return nil
	}
	s, err := callstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, func() error {
		s.Close()
		return nil
	})
	return nil
}

// newSession builds a call session from the current configuration.
func (a *App) newSession(ctx context.Context, st mediastream.Start, sink pacer.Sink) (*call.Session, error) {
	cfg := a.current().Call

	gen := llm.NewResponder(a.providers.LLM,
		llm.WithSystemPrompt(cfg.SystemPrompt),
		llm.WithHistoryLimit(cfg.HistoryLimit),
		llm.WithTemperature(cfg.Temperature),
		llm.WithMaxTokens(cfg.MaxTokens),
	)
	var classifier vad.Classifier
	if a.classifier != nil {
		classifier = a.classifier(cfg.VADThreshold)
	}

	return call.New(ctx, call.Config{
		CallID:              st.CallID,
		StreamID:            st.StreamID,
		Sink:                sink,
		Recognizer:          a.providers.STT,
		Generator:           gen,
		Synthesizer:         a.providers.TTS,
		Classifier:          classifier,
		VADThreshold:        cfg.VADThreshold,
		SilenceFrames:       cfg.SilenceFrames,
		IdleDelay:           cfg.IdleDelay,
		FrameSize:           cfg.FrameSize,
		FrameCadence:        cfg.FrameCadence,
		Nudges:              cfg.Nudges,
		FallbackReply:       cfg.FallbackReply,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		Metrics:             a.metrics,
	})
}

// Handler returns the HTTP surface: the media websocket, health probes,
// metrics and the call list.
func (a *App) Handler() http.Handler { return a.handler }

// Run listens on the configured address and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then drains: readiness turns to
// failing, live calls are closed and the HTTP server stops. It returns nil
// after a clean drain.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String(), "media_path", a.cfg.Server.MediaPath)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.drain(srv)
	})
	return g.Wait()
}

func (a *App) drain(srv *http.Server) error {
	a.health.SetDraining(true)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("draining", "calls", a.media.Len())
	if err := a.media.Shutdown(ctx); err != nil && !errors.Is(err, mediastream.ErrShuttingDown) {
		slog.Warn("media streams did not drain", "err", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// Shutdown releases the resources New opened. It respects ctx: closers not
// yet run when ctx ends are skipped and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// handleCalls lists recent call records, newest first. ?limit= caps the
// list at no more than store.recent_limit.
func (a *App) handleCalls(w http.ResponseWriter, r *http.Request) {
	limit := a.current().Store.RecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, limit)
	}
	recs, err := a.store.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("list calls", "err", err)
		http.Error(w, "call store unavailable", http.StatusServiceUnavailable)
		return
	}
	if recs == nil {
		recs = []callstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *App) handleCall(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, callstore.ErrNotFound):
		http.Error(w, "no such call", http.StatusNotFound)
	case err != nil:
		slog.Error("get call", "err", err)
		http.Error(w, "call store unavailable", http.StatusServiceUnavailable)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
