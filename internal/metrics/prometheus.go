// Package metrics exposes pipeline statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Raikerian/go-voice-pipeline/internal/pipeline"
)

// Metrics contains all Prometheus metrics for the voice pipeline.
type Metrics struct {
	FramesProcessed  prometheus.Counter
	FramesSuppressed prometheus.Counter
	EchoDetected     prometheus.Counter
	ERLE             prometheus.Gauge
	DoubleTalk       prometheus.Gauge
	BlockTime        prometheus.Histogram
	TelemetryDropped prometheus.Counter
	Starvations      prometheus.Counter
	Degradations     prometheus.Counter

	lastProcessed  uint64
	lastSuppressed uint64
	lastDetected   uint64
}

// NewMetrics creates and registers all pipeline metrics against the
// given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_processed_total",
			Help: "Total number of frames produced by the encoder",
		}),
		FramesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_suppressed_total",
			Help: "Total number of frames withheld by the correlation gate",
		}),
		EchoDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_echo_detected_total",
			Help: "Total number of frames whose correlation crossed the gate threshold",
		}),
		ERLE: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_erle_db",
			Help: "Smoothed echo return loss enhancement in dB",
		}),
		DoubleTalk: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_double_talk",
			Help: "Whether the canceller currently suspects double-talk (0 or 1)",
		}),
		BlockTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_block_processing_seconds",
			Help:    "Smoothed per-block processing time",
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 12), // 10 us to ~40 ms
		}),
		TelemetryDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_telemetry_dropped_total",
			Help: "Total number of telemetry events dropped because the queue was full",
		}),
		Starvations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_starvation_warnings_total",
			Help: "Total number of encoder starvation warnings",
		}),
		Degradations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_degradations_total",
			Help: "Total number of times echo processing was disabled after budget overruns",
		}),
	}
}

// ObserveSnapshot folds a telemetry snapshot into the metrics. Counter
// deltas are derived from the running totals the snapshot carries.
func (m *Metrics) ObserveSnapshot(s pipeline.Snapshot) {
	m.FramesProcessed.Add(float64(counterDelta(&m.lastProcessed, s.FramesProcessed)))
	m.FramesSuppressed.Add(float64(counterDelta(&m.lastSuppressed, s.FramesSuppressed)))
	m.EchoDetected.Add(float64(counterDelta(&m.lastDetected, s.EchoDetected)))
	m.ERLE.Set(s.ERLE)
	if s.DoubleTalk {
		m.DoubleTalk.Set(1)
	} else {
		m.DoubleTalk.Set(0)
	}
	m.BlockTime.Observe(s.AvgProcessTime.Seconds())
}

// counterDelta returns how much a running total advanced since the
// last observation, tolerating resets back to zero.
func counterDelta(last *uint64, current uint64) uint64 {
	if current < *last {
		*last = 0
	}
	delta := current - *last
	*last = current
	return delta
}
