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
		Name: "voicebridge_active_sessions",
		Help: "Number of active live conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_sessions_total",
		Help: "Total number of conversation sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Tool invocation metrics
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_tool_invocations_total",
		Help: "Total number of tool invocations",
	}, []string{"tool", "status"})

	toolLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_tool_latency_seconds",
		Help:    "Tool invocation latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	toolBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_tool_batch_size",
		Help:    "Number of invocations per tool-call request batch",
		Buckets: []float64{1, 2, 3, 5, 8},
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	playbackInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_playback_interruptions_total",
		Help: "Total number of playback interruptions (barge-in or server signal)",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Resilience metrics
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_reconnect_attempts_total",
		Help: "Total reconnection attempts against remote services",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single conversation session
type SessionMetrics struct {
	sessionID     string
	startTime     time.Time
	toolStartTime time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordToolStart records the start of a tool invocation
func (m *SessionMetrics) RecordToolStart() {
	m.mu.Lock()
	m.toolStartTime = time.Now()
	m.mu.Unlock()
}

// RecordToolEnd records the end of a tool invocation
func (m *SessionMetrics) RecordToolEnd(tool string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.toolStartTime.IsZero() {
		toolLatency.Observe(time.Since(m.toolStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	toolInvocations.WithLabelValues(tool, status).Inc()
}

// RecordToolBatch records the size of a forwarded tool-result batch
func (m *SessionMetrics) RecordToolBatch(size int) {
	toolBatchSize.Observe(float64(size))
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordInterruption records a playback interruption
func (m *SessionMetrics) RecordInterruption() {
	playbackInterruptions.Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateBreakerState updates the circuit breaker state metric
func UpdateBreakerState(service string, state int) {
	breakerState.WithLabelValues(service).Set(float64(state))
}

// RecordReconnectAttempt counts one reconnection attempt against a service
func RecordReconnectAttempt(service string) {
	reconnectAttempts.WithLabelValues(service).Inc()
}
