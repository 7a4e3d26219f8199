// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/relaydesk/relaydesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks the full processTurn latency. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("mode", ...)
	TurnDuration metric.Float64Histogram

	// ScenarioRetrievalDuration tracks scenario index retrieval latency.
	ScenarioRetrievalDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// SessionSaveDuration tracks session persistence latency.
	SessionSaveDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts processed turns. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("match_source", ...)
	Turns metric.Int64Counter

	// ScenarioMatches counts tier-1.5 scenario answers by scenario type.
	ScenarioMatches metric.Int64Counter

	// ConsentDetections counts consent-gate passes by rule.
	ConsentDetections metric.Int64Counter

	// BookingsFinalized counts finalized bookings. Use with attribute:
	//   attribute.String("outcome", ...)
	BookingsFinalized metric.Int64Counter

	// TokensUsed accumulates LLM tokens spent per turn.
	TokensUsed metric.Int64Counter

	// --- Error counters ---

	// AuditFailures counts swallowed audit-append errors.
	AuditFailures metric.Int64Counter

	// SaveConflicts counts optimistic-concurrency retries at session save.
	SaveConflicts metric.Int64Counter

	// SmartFallbacks counts turns answered by the error-containment path.
	SmartFallbacks metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions currently mid-turn.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("relaydesk.turn.duration",
		metric.WithDescription("End-to-end processTurn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScenarioRetrievalDuration, err = m.Float64Histogram("relaydesk.scenario.retrieval.duration",
		metric.WithDescription("Latency of scenario index retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("relaydesk.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionSaveDuration, err = m.Float64Histogram("relaydesk.session.save.duration",
		metric.WithDescription("Latency of session persistence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("relaydesk.turns",
		metric.WithDescription("Total processed turns by tier and match source."),
	); err != nil {
		return nil, err
	}
	if met.ScenarioMatches, err = m.Int64Counter("relaydesk.scenario.matches",
		metric.WithDescription("Total tier-1.5 scenario answers by scenario type."),
	); err != nil {
		return nil, err
	}
	if met.ConsentDetections, err = m.Int64Counter("relaydesk.consent.detections",
		metric.WithDescription("Total consent-gate passes by rule."),
	); err != nil {
		return nil, err
	}
	if met.BookingsFinalized, err = m.Int64Counter("relaydesk.bookings.finalized",
		metric.WithDescription("Total finalized bookings by outcome mode."),
	); err != nil {
		return nil, err
	}
	if met.TokensUsed, err = m.Int64Counter("relaydesk.llm.tokens",
		metric.WithDescription("Total LLM tokens consumed."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AuditFailures, err = m.Int64Counter("relaydesk.audit.failures",
		metric.WithDescription("Total swallowed audit-append errors."),
	); err != nil {
		return nil, err
	}
	if met.SaveConflicts, err = m.Int64Counter("relaydesk.session.save.conflicts",
		metric.WithDescription("Total optimistic-concurrency conflicts at session save."),
	); err != nil {
		return nil, err
	}
	if met.SmartFallbacks, err = m.Int64Counter("relaydesk.turn.smart_fallbacks",
		metric.WithDescription("Total turns answered by the error-containment fallback."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("relaydesk.active_sessions",
		metric.WithDescription("Number of sessions currently mid-turn."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("relaydesk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records one processed turn with the standard attribute set.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64, channel, mode, tier, matchSource string) {
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("mode", mode),
	))
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("match_source", matchSource),
	))
}
