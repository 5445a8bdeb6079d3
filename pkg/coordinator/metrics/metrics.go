package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	registry *prometheus.Registry

	// Logical session metrics
	SessionsActive  prometheus.Gauge
	SessionsReaped  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Event fan-out metrics
	EventsTotal        *prometheus.CounterVec
	EventsDroppedTotal *prometheus.CounterVec
	SSEClientsActive   prometheus.Gauge

	// Turn metrics
	TextTurnsTotal  *prometheus.CounterVec
	VoiceTurnsTotal prometheus.Counter

	// Recovery metrics
	RecoveryAttemptsTotal  *prometheus.CounterVec
	RecoveryExhaustedTotal prometheus.Counter

	// Context injection metrics
	InjectionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "visage"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Logical sessions currently resident",
	})

	sessionsReaped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_reaped_total",
		Help:      "Logical sessions removed by the idle reaper",
	})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Lifetime of reaped logical sessions",
		Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200},
	})

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published through the session hub",
		},
		[]string{"event"},
	)

	eventsDroppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped before reaching a client",
		},
		[]string{"reason"},
	)

	sseClientsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_clients_active",
		Help:      "Connected event-stream clients",
	})

	textTurnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_turns_total",
			Help:      "Program-initiated text turns by outcome",
		},
		[]string{"outcome"},
	)

	voiceTurnsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "voice_turns_total",
		Help:      "Voice-activity turns that requested a response",
	})

	recoveryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_attempts_total",
			Help:      "Session recovery attempts by outcome",
		},
		[]string{"outcome"},
	)

	recoveryExhaustedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_exhausted_total",
		Help:      "Recovery sequences that hit the attempt cap",
	})

	injectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_injections_total",
			Help:      "External context injections by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsReaped,
		sessionDuration,
		eventsTotal,
		eventsDroppedTotal,
		sseClientsActive,
		textTurnsTotal,
		voiceTurnsTotal,
		recoveryAttemptsTotal,
		recoveryExhaustedTotal,
		injectionsTotal,
	)

	return &Metrics{
		registry:               registry,
		SessionsActive:         sessionsActive,
		SessionsReaped:         sessionsReaped,
		SessionDuration:        sessionDuration,
		EventsTotal:            eventsTotal,
		EventsDroppedTotal:     eventsDroppedTotal,
		SSEClientsActive:       sseClientsActive,
		TextTurnsTotal:         textTurnsTotal,
		VoiceTurnsTotal:        voiceTurnsTotal,
		RecoveryAttemptsTotal:  recoveryAttemptsTotal,
		RecoveryExhaustedTotal: recoveryExhaustedTotal,
		InjectionsTotal:        injectionsTotal,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
