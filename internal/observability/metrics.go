package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asr_active_sessions",
		Help: "Number of active transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_sessions_total",
		Help: "Total number of transcription sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asr_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio metrics
	audioBytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_audio_bytes_total",
		Help: "Total raw audio bytes consumed from the input stream",
	})

	chunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_audio_chunks_sent_total",
		Help: "Total audio chunks sent to the ASR service",
	})

	// Event metrics
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_events_received_total",
		Help: "Total service events received, by event kind",
	}, []string{"kind"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_errors_total",
		Help: "Total number of errors, by error kind",
	}, []string{"kind"})
)

// Metrics tracks metrics for a single session.
type Metrics struct {
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for one session.
func NewSessionMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session.
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session.
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records raw audio bytes consumed from the input.
func (m *Metrics) RecordAudioBytes(n int64) {
	audioBytesRead.Add(float64(n))
}

// RecordChunkSent records one audio chunk sent to the service.
func (m *Metrics) RecordChunkSent() {
	chunksSent.Inc()
}

// RecordEvent records one received service event.
func (m *Metrics) RecordEvent(kind string) {
	eventsReceived.WithLabelValues(kind).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}
