// Package observe provides the observability primitives of glasslisten:
// OpenTelemetry metrics for the capture pipeline, tracing helpers,
// trace-aware structured logging, and HTTP middleware for the control API.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider], so they can be scraped from /metrics. Tests
// should build their own instance with [NewMetrics] and a
// [sdkmetric.ManualReader] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all glasslisten metrics.
const meterName = "github.com/MrWong99/glasslisten"

// Drop reasons reported with [Metrics.RecordDrop].
const (
	DropQueueFull   = "queue_full"
	DropDecode      = "decode"
	DropSendFailed  = "send_failed"
	DropChannelFull = "channel_full"
	DropStopped     = "stopped"
)

// Metrics holds all OpenTelemetry instruments for the application.
// The underlying OTel types are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// BlockDuration tracks how long processing one microphone block takes
	// (echo suppression plus chunking).
	BlockDuration metric.Float64Histogram

	// SendDuration tracks transport latency per chunk. Use with attribute
	// "status".
	SendDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts frames read from capture streams. Use with
	// attribute "stream".
	FramesReceived metric.Int64Counter

	// ChunksEmitted counts chunks handed to the transport. Use with
	// attribute "status".
	ChunksEmitted metric.Int64Counter

	// Drops counts discarded frames or chunks. Use with attributes "stage"
	// and "reason".
	Drops metric.Int64Counter

	// EchoSuppressed counts microphone blocks that went through echo
	// suppression because reference audio was active.
	EchoSuppressed metric.Int64Counter

	// VoiceTransitions counts VAD state changes on the reference stream.
	// Use with attribute "state".
	VoiceTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes "sink" and "state".
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks chunks waiting for the transport.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes "method", "path" and "status_class".
	HTTPRequestDuration metric.Float64Histogram
}

// blockBuckets are histogram boundaries (in seconds) for per-block work,
// which must stay well under the 170 ms a 4096-frame block lasts.
var blockBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// sendBuckets are histogram boundaries (in seconds) for network sends.
var sendBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BlockDuration, err = m.Float64Histogram("glasslisten.block.duration",
		metric.WithDescription("Time spent processing one microphone block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("glasslisten.send.duration",
		metric.WithDescription("Latency of delivering one chunk to the transport."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesReceived, err = m.Int64Counter("glasslisten.frames.received",
		metric.WithDescription("Frames read from capture streams by stream."),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("glasslisten.chunks.emitted",
		metric.WithDescription("Chunks handed to the transport by status."),
	); err != nil {
		return nil, err
	}
	if met.Drops, err = m.Int64Counter("glasslisten.drops",
		metric.WithDescription("Discarded frames and chunks by stage and reason."),
	); err != nil {
		return nil, err
	}
	if met.EchoSuppressed, err = m.Int64Counter("glasslisten.aec.blocks",
		metric.WithDescription("Microphone blocks processed by echo suppression."),
	); err != nil {
		return nil, err
	}
	if met.VoiceTransitions, err = m.Int64Counter("glasslisten.vad.transitions",
		metric.WithDescription("Reference voice activity transitions by state."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("glasslisten.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by sink and state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("glasslisten.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("glasslisten.queue.depth",
		metric.WithDescription("Chunks waiting to be sent."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("glasslisten.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status class."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus bridge.
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

// RecordFrame counts one frame read from stream.
func (m *Metrics) RecordFrame(ctx context.Context, stream string) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(Attr("stream", stream)))
}

// RecordDrop counts one discarded item.
func (m *Metrics) RecordDrop(ctx context.Context, stage, reason string) {
	m.Drops.Add(ctx, 1, metric.WithAttributes(
		Attr("stage", stage),
		Attr("reason", reason),
	))
}

// RecordSend records the outcome and latency of one chunk send.
func (m *Metrics) RecordSend(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(Attr("status", status))
	m.ChunksEmitted.Add(ctx, 1, attrs)
	m.SendDuration.Record(ctx, seconds, attrs)
}

// RecordVoice counts one reference voice activity transition.
func (m *Metrics) RecordVoice(ctx context.Context, active bool) {
	state := "inactive"
	if active {
		state = "active"
	}
	m.VoiceTransitions.Add(ctx, 1, metric.WithAttributes(Attr("state", state)))
}

// RecordBreaker counts one circuit breaker transition into state.
func (m *Metrics) RecordBreaker(ctx context.Context, sink, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("sink", sink),
		Attr("state", state),
	))
}
