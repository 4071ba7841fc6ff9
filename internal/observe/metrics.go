// Package observe provides application-wide observability primitives for
// Glyphcast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the standard /metrics
// endpoint can be scraped. [DefaultMetrics] is backed by the global provider;
// tests should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Glyphcast metrics.
const meterName = "github.com/MrWong99/glyphcast"

// Metrics holds every metric instrument of the application. All fields are
// safe for concurrent use.
type Metrics struct {
	// --- Counters ---

	// Casts counts accepted casts. Attributes: spell, element, actor_kind.
	Casts metric.Int64Counter

	// Rejections counts failed cast attempts. Attribute: reason.
	Rejections metric.Int64Counter

	// Reactions counts triggered elemental reactions. Attribute: reaction.
	Reactions metric.Int64Counter

	// STTRestarts counts speech engine restarts. Attribute: provider.
	STTRestarts metric.Int64Counter

	// --- Histograms ---

	// MatchAccuracy records the best accuracy (0..100) of every evaluation.
	MatchAccuracy metric.Float64Histogram

	// CastPower records the power of accepted casts.
	CastPower metric.Float64Histogram

	// CastDamage records final damage of accepted casts.
	CastDamage metric.Float64Histogram

	// EvaluationDuration tracks the time from phrase end to gate decision.
	EvaluationDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of running casting sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FeedClients tracks connected cast feed subscribers.
	FeedClients metric.Int64UpDownCounter
}

// latencyBuckets (seconds) cover sub-millisecond scoring up to slow HTTP.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

var accuracyBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100}

var powerBuckets = []float64{0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.25, 1.5, 2.0}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Casts, err = m.Int64Counter("glyphcast.casts",
		metric.WithDescription("Accepted casts by spell, element and actor kind."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("glyphcast.rejections",
		metric.WithDescription("Cast attempts that produced no cast, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reactions, err = m.Int64Counter("glyphcast.reactions",
		metric.WithDescription("Elemental reactions triggered, by reaction name."),
	); err != nil {
		return nil, err
	}
	if met.STTRestarts, err = m.Int64Counter("glyphcast.stt.restarts",
		metric.WithDescription("Speech engine restarts by provider."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.MatchAccuracy, err = m.Float64Histogram("glyphcast.match.accuracy",
		metric.WithDescription("Best pronunciation accuracy per evaluation."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(accuracyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CastPower, err = m.Float64Histogram("glyphcast.cast.power",
		metric.WithDescription("Power of accepted casts."),
		metric.WithExplicitBucketBoundaries(powerBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CastDamage, err = m.Float64Histogram("glyphcast.cast.damage",
		metric.WithDescription("Final damage of accepted casts. Negative values heal."),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDuration, err = m.Float64Histogram("glyphcast.evaluation.duration",
		metric.WithDescription("Latency of matching and gating one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("glyphcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("glyphcast.active_sessions",
		metric.WithDescription("Number of running casting sessions."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("glyphcast.feed.clients",
		metric.WithDescription("Number of connected cast feed subscribers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCast records an accepted cast with its power, damage and optional
// reaction.
func (m *Metrics) RecordCast(ctx context.Context, spellID, element, actorKind string, power float64, damage int, reaction string) {
	m.Casts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("spell", spellID),
		attribute.String("element", element),
		attribute.String("actor_kind", actorKind),
	))
	m.CastPower.Record(ctx, power)
	m.CastDamage.Record(ctx, float64(damage))
	if reaction != "" {
		m.Reactions.Add(ctx, 1, metric.WithAttributes(attribute.String("reaction", reaction)))
	}
}

// RecordRejection records a failed attempt.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEvaluation records one evaluation's best accuracy and latency.
func (m *Metrics) RecordEvaluation(ctx context.Context, accuracy float64, took time.Duration) {
	m.MatchAccuracy.Record(ctx, accuracy)
	m.EvaluationDuration.Record(ctx, took.Seconds())
}

// RecordSTTRestart records one speech engine restart.
func (m *Metrics) RecordSTTRestart(ctx context.Context, provider string) {
	m.STTRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
