package observe

import (
	"context"
	"errors"
	"testing"

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

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"skein.worker.tick.duration", m.TickDuration},
		{"skein.ai.duration", m.AIDuration},
		{"skein.pipeline.duration", m.PipelineDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestEnvelopeCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEnvelope(ctx, "roller", "done")
	m.RecordEnvelope(ctx, "roller", "done")
	m.RecordEnvelope(ctx, "roller", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "skein.envelopes.processed")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	// Find the data point with status=done.
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "done" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with status=done not found")
}

func TestAICallRecordsLatencyAndErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAICall(ctx, "renderer", 1.5, nil)
	m.RecordAICall(ctx, "renderer", 0.2, errors.New("model offline"))

	rm := collect(t, reader)

	met := findMetric(rm, "skein.ai.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("duration sample count = %d, want 2", got)
	}

	errMet := findMetric(rm, "skein.ai.errors")
	if errMet == nil {
		t.Fatal("error metric not found")
	}
	sum, ok := errMet.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("error metric is not a sum")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("error count = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestDiceAndEffectCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDiceRoll(ctx, "auto")
	m.RecordDiceRoll(ctx, "player")
	m.RecordEffect(ctx, "APPLY_DAMAGE")

	rm := collect(t, reader)

	dice := findMetric(rm, "skein.dice.rolls")
	if dice == nil {
		t.Fatal("dice metric not found")
	}
	sum, ok := dice.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("dice metric is not a sum")
	}
	total := int64(0)
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("dice roll total = %d, want 2", total)
	}

	eff := findMetric(rm, "skein.effects.applied")
	if eff == nil {
		t.Fatal("effect metric not found")
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	if _, err := m.RegisterQueueDepth("outbox", func() (int64, error) { return 3, nil }); err != nil {
		t.Fatalf("RegisterQueueDepth: %v", err)
	}
	if _, err := m.RegisterMovingNPCs(func() int64 { return 2 }); err != nil {
		t.Fatalf("RegisterMovingNPCs: %v", err)
	}
	if _, err := m.RegisterPendingRolls(func() (int64, error) { return 1, nil }); err != nil {
		t.Fatalf("RegisterPendingRolls: %v", err)
	}

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"skein.queue.depth", 3},
		{"skein.npc.moving", 2},
		{"skein.roller.pending", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			g, ok := met.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("metric %q is not a gauge", tc.name)
			}
			if len(g.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := g.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGaugeReaderErrorSkipsSample(t *testing.T) {
	m, reader := newTestMetrics(t)

	if _, err := m.RegisterQueueDepth("log", func() (int64, error) {
		return 0, errors.New("torn file")
	}); err != nil {
		t.Fatalf("RegisterQueueDepth: %v", err)
	}

	rm := collect(t, reader)
	if met := findMetric(rm, "skein.queue.depth"); met != nil {
		if g, ok := met.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
			t.Errorf("failing reader still produced %d data points", len(g.DataPoints))
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
