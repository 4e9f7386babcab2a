// Package observe carries the server's telemetry: OpenTelemetry metric
// instruments, tracing helpers and the HTTP middleware that ties a request
// to both.
//
// Instruments are created through the OTel metrics API. [InitProvider]
// bridges them to a Prometheus registry which [MetricsHandler] serves.
// Tests build their own [Metrics] with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/elderme-design/elderme-server"

// Turn outcomes reported on [Metrics.Turns].
const (
	OutcomeReplied     = "replied"
	OutcomeEmpty       = "empty"       // recognizer returned nothing
	OutcomeRecognition = "recognition" // recognizer failed
	OutcomeSynthesis   = "synthesis"   // synthesizer failed
	OutcomeFallback    = "fallback"    // generator failed, fallback reply spoken
	OutcomeAbandoned   = "abandoned"   // call ended mid-turn
)

// Metrics holds the instruments for the call pipeline.
type Metrics struct {
	TurnDuration        metric.Float64Histogram
	RecognitionDuration metric.Float64Histogram
	GenerationDuration  metric.Float64Histogram
	SynthesisDuration   metric.Float64Histogram

	// Turns counts finished turns by "outcome".
	Turns metric.Int64Counter

	Nudges        metric.Int64Counter
	FramesSent    metric.Int64Counter
	Interruptions metric.Int64Counter

	// MalformedMessages counts inbound websocket messages dropped because
	// they could not be decoded. Attribute "reason".
	MalformedMessages metric.Int64Counter

	ActiveCalls metric.Int64UpDownCounter

	// ProviderRequests and ProviderErrors carry "provider" and "kind".
	// Requests additionally carry "status".
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by "backend"
	// and "to".
	BreakerTransitions metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds. Telephone turns run from a few hundred
// milliseconds up to tens of seconds when synthesis is slow.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	hist := func(dst *metric.Float64Histogram, name, desc string) error {
		var err error
		*dst, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		return err
	}
	counter := func(dst *metric.Int64Counter, name, desc string) error {
		var err error
		*dst, err = m.Int64Counter(name, metric.WithDescription(desc))
		return err
	}

	steps := []func() error{
		func() error { return hist(&met.TurnDuration, "elderme.turn.duration", "Time from end of caller speech to end of reply playback.") },
		func() error { return hist(&met.RecognitionDuration, "elderme.recognition.duration", "Latency of speech recognition per turn.") },
		func() error { return hist(&met.GenerationDuration, "elderme.generation.duration", "Latency of reply generation per turn.") },
		func() error { return hist(&met.SynthesisDuration, "elderme.synthesis.duration", "Latency of speech synthesis per turn.") },
		func() error { return counter(&met.Turns, "elderme.turns", "Finished turns by outcome.") },
		func() error { return counter(&met.Nudges, "elderme.nudges", "Idle nudges spoken.") },
		func() error { return counter(&met.FramesSent, "elderme.frames.sent", "Outbound audio frames written to callers.") },
		func() error { return counter(&met.Interruptions, "elderme.playback.interruptions", "Replies cut short because the stream closed.") },
		func() error { return counter(&met.MalformedMessages, "elderme.stream.malformed", "Inbound stream messages dropped as malformed.") },
		func() error { return counter(&met.ProviderRequests, "elderme.provider.requests", "Collaborator requests by provider, kind and status.") },
		func() error { return counter(&met.ProviderErrors, "elderme.provider.errors", "Collaborator errors by provider and kind.") },
		func() error { return counter(&met.BreakerTransitions, "elderme.breaker.transitions", "Circuit breaker state changes.") },
		func() error {
			var err error
			met.ActiveCalls, err = m.Int64UpDownCounter("elderme.calls.active",
				metric.WithDescription("Calls with an open media stream."))
			return err
		},
		func() error {
			var err error
			met.HTTPRequestDuration, err = m.Float64Histogram("elderme.http.request.duration",
				metric.WithDescription("HTTP request latency by method and path."),
				metric.WithUnit("s"))
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records a finished turn's outcome and, when d > 0, its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	if d > 0 {
		m.TurnDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordProviderRequest counts one collaborator call. A non-nil err also
// bumps [Metrics.ProviderErrors].
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordMalformed counts a dropped inbound message.
func (m *Metrics) RecordMalformed(ctx context.Context, reason string) {
	m.MalformedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(backend, to string) {
	m.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("to", to),
	))
}
