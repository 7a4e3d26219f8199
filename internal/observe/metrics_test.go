package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tests := []struct {
		name string
		hist metric.Float64Histogram
	}{
		{"relaydesk.turn.duration", m.TurnDuration},
		{"relaydesk.scenario.retrieval.duration", m.ScenarioRetrievalDuration},
		{"relaydesk.llm.duration", m.LLMDuration},
		{"relaydesk.session.save.duration", m.SessionSaveDuration},
	}
	for _, tc := range tests {
		tc.hist.Record(ctx, 0.123)
	}

	rm := collect(t, reader)
	for _, tc := range tests {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Errorf("metric %q not found after recording", tc.name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %q: unexpected data type %T", tc.name, met.Data)
			continue
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q: unexpected data points %+v", tc.name, hist.DataPoints)
		}
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, 0.4, "voice", "DISCOVERY", "tier1.5", "SCENARIO_MATCHED")
	m.RecordTurn(ctx, 0.2, "voice", "BOOKING", "tier1", "BOOKING_SLOT_QUESTION")

	rm := collect(t, reader)
	met := findMetric(rm, "relaydesk.turns")
	if met == nil {
		t.Fatal("relaydesk.turns not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("turn count = %d, want 2", total)
	}

	dur := findMetric(rm, "relaydesk.turn.duration")
	if dur == nil {
		t.Fatal("relaydesk.turn.duration not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("duration series = %d, want 2 (per channel/mode pair)", len(hist.DataPoints))
	}
}

func TestCountersWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ScenarioMatches.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "diagnostic")))
	m.ConsentDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", "pending_affirmative")))
	m.BookingsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "callback_required")))
	m.TokensUsed.Add(ctx, 120)
	m.AuditFailures.Add(ctx, 1)
	m.SaveConflicts.Add(ctx, 1)
	m.SmartFallbacks.Add(ctx, 1)

	rm := collect(t, reader)
	for _, name := range []string{
		"relaydesk.scenario.matches",
		"relaydesk.consent.detections",
		"relaydesk.bookings.finalized",
		"relaydesk.llm.tokens",
		"relaydesk.audit.failures",
		"relaydesk.session.save.conflicts",
		"relaydesk.turn.smart_fallbacks",
	} {
		if findMetric(rm, name) == nil {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "relaydesk.active_sessions")
	if met == nil {
		t.Fatal("relaydesk.active_sessions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge = %+v, want 1", sum.DataPoints)
	}
}

func TestHTTPRequestDurationRecorded(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05, metric.WithAttributes(
		attribute.String("method", "POST"),
		attribute.String("path", "/v1/turn"),
	))

	rm := collect(t, reader)
	if findMetric(rm, "relaydesk.http.request.duration") == nil {
		t.Fatal("relaydesk.http.request.duration not found")
	}
}
