// Package metrics собирает счётчики конвейера для /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livetranscriber"

// Metrics метрики одного экземпляра сервиса. Каждый экземпляр имеет свой
// реестр, поэтому несколько сервисов (и тесты) не конфликтуют.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	BufferedFrames prometheus.Gauge

	// Chunker
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram

	// Inference
	InferenceDuration prometheus.Histogram
	InferenceFailures prometheus.Counter
	SegmentsSkipped   prometheus.Counter
	Translations      prometheus.Counter

	// Transcript
	Events *prometheus.CounterVec

	// Sessions
	SessionsStarted prometheus.Counter
	SessionErrors   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New создаёт метрики в собственном реестре
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of audio frames pushed into the capture buffer",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of oldest frames discarded because the capture buffer was full",
		}),
		BufferedFrames: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_frames",
			Help:      "Frames waiting in the capture buffer at the last poll",
		}),
		SegmentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of segments produced by the chunker",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Duration of produced segments",
			Buckets:   prometheus.LinearBuckets(1, 4, 9), // 1s to 33s
		}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent recognizing (and translating) one segment",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		InferenceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_failures_total",
			Help:      "Segments skipped because the recognizer failed",
		}),
		SegmentsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_silent_total",
			Help:      "Segments without speech",
		}),
		Translations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Segments translated to the target language",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_total",
			Help:      "Transcript events appended, by line tag",
		}, []string{"tag"}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Capture sessions started",
		}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Session level errors by kind",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "1 while capturing",
		}),
	}
}

// Registry реестр для тестов и дополнительных коллекторов
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler HTTP обработчик /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveInference учитывает один вызов распознавания
func (m *Metrics) ObserveInference(started time.Time, failed bool) {
	m.InferenceDuration.Observe(time.Since(started).Seconds())
	if failed {
		m.InferenceFailures.Inc()
	}
}

// ObserveSegment учитывает сегмент от нарезчика
func (m *Metrics) ObserveSegment(d time.Duration) {
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(d.Seconds())
}
