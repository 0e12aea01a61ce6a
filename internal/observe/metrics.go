// Package observe provides observability primitives for the cadenza
// pipeline: OpenTelemetry metrics with a Prometheus exporter bridge and the
// HTTP endpoint that serves them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all cadenza metrics.
const meterName = "github.com/cadenza-audio/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// SegmentsEmitted counts completed segments. Use with attribute:
	//   attribute.String("tier", ...)
	SegmentsEmitted metric.Int64Counter

	// SegmentDuration tracks emitted segment lengths in seconds.
	SegmentDuration metric.Float64Histogram

	// TranscriptionDuration tracks per-segment inference latency. Use with
	// attribute: attribute.String("backend", ...)
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionErrors counts failed transcriptions. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	TranscriptionErrors metric.Int64Counter

	// DenoiseDuration tracks the denoise stage latency.
	DenoiseDuration metric.Float64Histogram

	// RingOverwrites counts samples lost to consumer lag. Use with
	// attribute: attribute.String("source", ...)
	RingOverwrites metric.Int64Counter

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram boundaries (in seconds) covering both the
// fast denoise stage and long batch inference calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// segmentBuckets covers segment lengths from a short flush up to the
// configurable ceiling.
var segmentBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentsEmitted, err = m.Int64Counter("cadenza.segments.emitted",
		metric.WithDescription("Total segments emitted by split tier."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("cadenza.segment.duration",
		metric.WithDescription("Duration of emitted segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("cadenza.transcription.duration",
		metric.WithDescription("Per-segment inference latency by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("cadenza.transcription.errors",
		metric.WithDescription("Total failed transcriptions by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.DenoiseDuration, err = m.Float64Histogram("cadenza.denoise.duration",
		metric.WithDescription("Denoise stage latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RingOverwrites, err = m.Int64Counter("cadenza.ring.overwrites",
		metric.WithDescription("Samples overwritten unread in the capture ring, by source."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
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

// RecordSegment records one emitted segment with its tier and duration.
func (m *Metrics) RecordSegment(ctx context.Context, tier string, d time.Duration) {
	m.SegmentsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	m.SegmentDuration.Record(ctx, d.Seconds())
}

// RecordTranscription records one inference call's latency.
func (m *Metrics) RecordTranscription(ctx context.Context, backend string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordTranscriptionError records one failed inference call. kind is
// "unavailable" or "inference".
func (m *Metrics) RecordTranscriptionError(ctx context.Context, backend, kind string) {
	m.TranscriptionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}
