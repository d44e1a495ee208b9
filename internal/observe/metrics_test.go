package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// TestNewMetrics verifies all instruments are created without error.
func TestNewMetrics(t *testing.T) {
	m, _ := testMetrics(t)
	if m.EnricherDuration == nil || m.Turns == nil || m.ActiveRuns == nil {
		t.Fatal("expected all instruments to be initialised")
	}
}

// TestRecordTurn verifies the turn counter increments with the status
// attribute.
func TestRecordTurn(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "accepted")
	m.RecordTurn(ctx, "accepted")
	m.RecordTurn(ctx, "failed")

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "reverie.turns")
	if !ok {
		t.Fatal("reverie.turns not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total turns = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("expected 2 status series, got %d", len(sum.DataPoints))
	}
}

// TestRecordEnricher verifies the histogram records per-enricher samples.
func TestRecordEnricher(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecordEnricher(ctx, "trigger", 0.05)
	m.RecordEnricher(ctx, "semantic", 1.2)

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "reverie.enricher.duration")
	if !ok {
		t.Fatal("reverie.enricher.duration not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("expected 2 enricher series, got %d", len(hist.DataPoints))
	}
}

// TestRecordProviderRequest verifies attribute fan-out on the request
// counter.
func TestRecordProviderRequest(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "completion", "ok")
	m.RecordProviderError(ctx, "gemini", "completion")

	rm := collect(t, reader)
	if _, ok := findMetric(rm, "reverie.provider.requests"); !ok {
		t.Error("reverie.provider.requests not found")
	}
	if _, ok := findMetric(rm, "reverie.provider.errors"); !ok {
		t.Error("reverie.provider.errors not found")
	}
}
