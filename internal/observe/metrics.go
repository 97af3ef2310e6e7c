// Package observe provides application-wide observability primitives for
// Skein: OpenTelemetry metrics, tracing helpers, and the Prometheus bridge.
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

// meterName is the instrumentation scope name used for all Skein metrics.
const meterName = "github.com/aldenvane/skein"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks one worker poll cycle. Use with attribute:
	//   attribute.String("worker", ...)
	TickDuration metric.Float64Histogram

	// AIDuration tracks AI provider call latency. Use with attribute:
	//   attribute.String("service", ...)
	AIDuration metric.Float64Histogram

	// PipelineDuration tracks one action-pipeline run end to end.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// EnvelopesProcessed counts terminated envelopes. Use with attributes:
	//   attribute.String("worker", ...), attribute.String("status", ...)
	EnvelopesProcessed metric.Int64Counter

	// EffectsApplied counts executed effect commands. Use with attribute:
	//   attribute.String("verb", ...)
	EffectsApplied metric.Int64Counter

	// DiceRolls counts evaluated dice expressions. Use with attribute:
	//   attribute.String("source", "auto"|"player")
	DiceRolls metric.Int64Counter

	// EnvelopesReclaimed counts stuck-claim recoveries by worker.
	EnvelopesReclaimed metric.Int64Counter

	// AIErrors counts provider failures. Use with attribute:
	//   attribute.String("service", ...)
	AIErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks live (non-terminal) envelopes per queue. Register a
	// reader per queue with [Metrics.RegisterQueueDepth].
	QueueDepth metric.Int64ObservableGauge

	// MovingNPCs tracks how many NPCs currently walk a path. Register the
	// reader with [Metrics.RegisterMovingNPCs].
	MovingNPCs metric.Int64ObservableGauge

	// PendingPlayerRolls tracks parked awaiting_roll_* envelopes. Register
	// the reader with [Metrics.RegisterPendingRolls].
	PendingPlayerRolls metric.Int64ObservableGauge

	// meter backs the Register* callbacks for the observable gauges.
	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// queue ticks up to long renderer AI calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("skein.worker.tick.duration",
		metric.WithDescription("Latency of one worker poll cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIDuration, err = m.Float64Histogram("skein.ai.duration",
		metric.WithDescription("Latency of AI provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("skein.pipeline.duration",
		metric.WithDescription("Latency of one action-pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EnvelopesProcessed, err = m.Int64Counter("skein.envelopes.processed",
		metric.WithDescription("Total terminated envelopes by worker and final status."),
	); err != nil {
		return nil, err
	}
	if met.EffectsApplied, err = m.Int64Counter("skein.effects.applied",
		metric.WithDescription("Total executed effect commands by verb."),
	); err != nil {
		return nil, err
	}
	if met.DiceRolls, err = m.Int64Counter("skein.dice.rolls",
		metric.WithDescription("Total evaluated dice expressions by source."),
	); err != nil {
		return nil, err
	}
	if met.EnvelopesReclaimed, err = m.Int64Counter("skein.envelopes.reclaimed",
		metric.WithDescription("Total stuck-claim recoveries by worker."),
	); err != nil {
		return nil, err
	}
	if met.AIErrors, err = m.Int64Counter("skein.ai.errors",
		metric.WithDescription("Total AI provider failures by service."),
	); err != nil {
		return nil, err
	}

	// Observable gauges; values are pulled from registered readers at
	// collection time.
	if met.QueueDepth, err = m.Int64ObservableGauge("skein.queue.depth",
		metric.WithDescription("Live envelopes per queue."),
	); err != nil {
		return nil, err
	}
	if met.MovingNPCs, err = m.Int64ObservableGauge("skein.npc.moving",
		metric.WithDescription("NPCs currently walking a path."),
	); err != nil {
		return nil, err
	}
	if met.PendingPlayerRolls, err = m.Int64ObservableGauge("skein.roller.pending",
		metric.WithDescription("Player rolls parked in awaiting_roll_*."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterQueueDepth registers fn as the depth reader for the named queue.
// fn runs on every metrics collection; a reader error skips the sample.
func (m *Metrics) RegisterQueueDepth(queue string, fn func() (int64, error)) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, err := fn()
		if err != nil {
			return nil
		}
		o.ObserveInt64(m.QueueDepth, n, metric.WithAttributes(attribute.String("queue", queue)))
		return nil
	}, m.QueueDepth)
}

// RegisterMovingNPCs registers fn as the reader for the moving-NPC gauge.
func (m *Metrics) RegisterMovingNPCs(fn func() int64) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.MovingNPCs, fn())
		return nil
	}, m.MovingNPCs)
}

// RegisterPendingRolls registers fn as the reader for the parked player-roll
// gauge.
func (m *Metrics) RegisterPendingRolls(fn func() (int64, error)) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, err := fn()
		if err != nil {
			return nil
		}
		o.ObserveInt64(m.PendingPlayerRolls, n)
		return nil
	}, m.PendingPlayerRolls)
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

// WithAttr wraps a single string attribute as a measurement option.
func WithAttr(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// RecordEnvelope records one terminated envelope with the standard attribute
// set.
func (m *Metrics) RecordEnvelope(ctx context.Context, worker, status string) {
	m.EnvelopesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("worker", worker),
			attribute.String("status", status),
		),
	)
}

// RecordAICall records one provider exchange: its latency and, when err is
// non-nil, an error count.
func (m *Metrics) RecordAICall(ctx context.Context, service string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("service", service))
	m.AIDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.AIErrors.Add(ctx, 1, attrs)
	}
}

// RecordDiceRoll records one evaluated dice expression.
func (m *Metrics) RecordDiceRoll(ctx context.Context, source string) {
	m.DiceRolls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordEffect records one executed effect command.
func (m *Metrics) RecordEffect(ctx context.Context, verb string) {
	m.EffectsApplied.Add(ctx, 1,
		metric.WithAttributes(attribute.String("verb", verb)),
	)
}
