package observe

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareEnv struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

// newMiddlewareEnv installs an in-memory tracer provider and a debug text
// logger for the duration of the test.
func newMiddlewareEnv(t *testing.T) *middlewareEnv {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		_ = tp.Shutdown(context.Background())
	})

	var buf bytes.Buffer
	prevLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prevLog) })

	return &middlewareEnv{metrics: m, reader: reader, spans: exp, logs: &buf}
}

func (e *middlewareEnv) serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	Middleware(e.metrics)(h).ServeHTTP(rec, req)
	return rec
}

func (e *middlewareEnv) statusAttr(t *testing.T) int64 {
	t.Helper()
	spans := e.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			return a.Value.AsInt64()
		}
	}
	t.Fatal("span has no status attribute")
	return 0
}

func TestMiddleware_CorrelationIDMatchesTrace(t *testing.T) {
	env := newMiddlewareEnv(t)

	var inner string
	rec := env.serve(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}, httptest.NewRequest(http.MethodGet, "/calls", nil))

	if len(inner) != 32 {
		t.Fatalf("correlation id %q is not a trace id", inner)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inner {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inner)
	}
	if name := env.spans.GetSpans()[0].Name; name != "HTTP GET /calls" {
		t.Errorf("span name = %q", name)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	env := newMiddlewareEnv(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := env.serve(func(http.ResponseWriter, *http.Request) {}, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want the caller's trace %q", got, traceID)
	}
}

func TestMiddleware_RecordsStatusAndDuration(t *testing.T) {
	env := newMiddlewareEnv(t)

	rec := env.serve(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest(http.MethodGet, "/calls/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if got := env.statusAttr(t); got != http.StatusNotFound {
		t.Errorf("span status = %d, want 404", got)
	}

	met := findMetric(collect(t, env.reader), "elderme.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes
	if v, _ := attrs.Value(attribute.Key("path")); v.AsString() != "/calls/missing" {
		t.Errorf("path attribute = %q", v.AsString())
	}
	if v, ok := attrs.Value(attribute.Key("upgraded")); !ok || v.AsBool() {
		t.Errorf("upgraded attribute = %v (present %v), want false", v.AsBool(), ok)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	env := newMiddlewareEnv(t)

	env.serve(func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	env.serve(func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest(http.MethodGet, "/calls", nil))

	lines := strings.Split(strings.TrimSpace(env.logs.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines:\n%s", len(lines), env.logs)
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "path=/readyz") {
		t.Errorf("probe line = %s", lines[0])
	}
	if !strings.Contains(lines[1], "level=INFO") {
		t.Errorf("api line = %s", lines[1])
	}
}

func TestMiddleware_HijackedStream(t *testing.T) {
	env := newMiddlewareEnv(t)

	inner := Middleware(env.metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, rw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
		_ = rw.Flush()
	}))
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	<-done
	if got := env.statusAttr(t); got != http.StatusSwitchingProtocols {
		t.Errorf("span status = %d, want 101", got)
	}
	if !strings.Contains(env.logs.String(), `msg="media stream closed"`) {
		t.Errorf("missing stream close log:\n%s", env.logs)
	}
}
