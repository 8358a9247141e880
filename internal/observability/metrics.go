package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_notifications_total",
		Help: "Notifications observed, by kind (past or new)",
	}, []string{"kind"})

	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_poll_cycles_total",
		Help: "Poll cycles by result",
	}, []string{"status"})

	dedupTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tospeak_dedup_tracked",
		Help: "Notification ids currently remembered by the dedup tracker",
	})

	// Speech metrics
	activeSpeech = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tospeak_speech_active",
		Help: "Utterances currently being rendered",
	})

	speechRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_speech_requests_total",
		Help: "Speech requests by outcome",
	}, []string{"outcome"})

	speechDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tospeak_speech_duration_seconds",
		Help:    "Wall time from speech request to outcome",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// Command metrics
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_commands_total",
		Help: "Inbound commands by type",
	}, []string{"type"})

	// Transliteration metrics
	translitFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tospeak_translit_fallbacks_total",
		Help: "Foreign words kept verbatim because conversion failed or was empty",
	})

	// Event metrics
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_events_total",
		Help: "Events emitted to the parent process, by type",
	}, []string{"type"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tospeak_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tospeak_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// UtteranceMetrics tracks metrics for a single speech request
type UtteranceMetrics struct {
	utteranceID string
	startTime   time.Time
	ended       bool
	mu          sync.Mutex
}

// NewUtteranceMetrics creates a new metrics tracker for an utterance
func NewUtteranceMetrics(utteranceID string) *UtteranceMetrics {
	return &UtteranceMetrics{
		utteranceID: utteranceID,
		startTime:   time.Now(),
	}
}

// RecordStart records that the engine started rendering
func (m *UtteranceMetrics) RecordStart() {
	activeSpeech.Inc()
}

// RecordEnd records the final outcome. Only the first call counts.
func (m *UtteranceMetrics) RecordEnd(outcome string, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	if started {
		activeSpeech.Dec()
	}
	speechDuration.Observe(time.Since(m.startTime).Seconds())
	speechRequests.WithLabelValues(outcome).Inc()
}

// RecordNotifications counts notifications of the given kind
func RecordNotifications(kind string, n int) {
	if n <= 0 {
		return
	}
	notificationsTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordPollCycle counts a poll cycle with its status (ok, error)
func RecordPollCycle(status string) {
	pollCycles.WithLabelValues(status).Inc()
}

// SetDedupTracked publishes the dedup tracker size
func SetDedupTracked(n int) {
	dedupTracked.Set(float64(n))
}

// RecordCommand counts an inbound command
func RecordCommand(commandType string) {
	commandsTotal.WithLabelValues(commandType).Inc()
}

// RecordTranslitFallback counts a word kept verbatim
func RecordTranslitFallback() {
	translitFallbacks.Inc()
}

// RecordEvent counts an emitted event
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
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
