package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_gateway_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_sessions_total",
		Help: "Total number of voice sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn metrics
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_dispatches_total",
		Help: "Total utterances dispatched to the query subsystem",
	}, []string{"status"})

	dispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_dispatch_latency_seconds",
		Help:    "Query subsystem dispatch latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	dedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_dedup_suppressed_total",
		Help: "Duplicate utterance dispatches suppressed",
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_barge_ins_total",
		Help: "Synthesis interruptions triggered by user speech",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_synthesis_latency_seconds",
		Help:    "Time to first synthesized chunk in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Ingest metrics
	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_dropped_frames_total",
		Help: "Audio frames dropped before reaching the recognizer",
	}, []string{"reason"}) // reason: "backpressure" or "recognizer_unavailable"

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID          string
	startTime          time.Time
	dispatchStartTime  time.Time
	synthesisStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordDispatchStart records the start of a query dispatch
func (m *Metrics) RecordDispatchStart() {
	m.mu.Lock()
	m.dispatchStartTime = time.Now()
	m.mu.Unlock()
}

// RecordDispatchEnd records the outcome of a query dispatch
func (m *Metrics) RecordDispatchEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dispatchStartTime.IsZero() {
		dispatchLatency.Observe(time.Since(m.dispatchStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	dispatchesTotal.WithLabelValues(status).Inc()
}

// RecordDedupSuppressed records a duplicate dispatch suppression
func (m *Metrics) RecordDedupSuppressed() {
	dedupSuppressed.Inc()
}

// RecordBargeIn records a user interruption of active synthesis
func (m *Metrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordSynthesisStart records the start of a synthesis request
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the outcome of a synthesis request
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordDroppedFrame records an audio frame dropped before the recognizer
func (m *Metrics) RecordDroppedFrame(reason string) {
	droppedFrames.WithLabelValues(reason).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
