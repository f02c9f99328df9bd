package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback engine.
// A nil *Metrics records nothing, so components can run without it in tests.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	queuedSlots        prometheus.Gauge
	activeSlots        prometheus.Gauge
	instancesInUse     prometheus.Gauge
	checkoutRejections *prometheus.CounterVec
	seekRetriesTotal   prometheus.Counter
	phaseTransitions   *prometheus.CounterVec
	behavioursStarted  *prometheus.CounterVec
	linksFollowedTotal prometheus.Counter
	commandsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		queuedSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_queued_slots",
			Help: "Number of media slots queued in the pool, active or not",
		}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_active_slots",
			Help: "Number of media slots currently active",
		}),
		instancesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_instances_in_use",
			Help: "Number of media output instances checked out by slots",
		}),
		checkoutRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_checkout_rejections_total",
			Help: "Activations rejected because no media output of the class was free",
		}, []string{"class"}),
		seekRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_seek_retries_total",
			Help: "Seek corrections reapplied after the backend drifted from the target",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderer_phase_transitions_total",
			Help: "Renderer phase transitions by target phase",
		}, []string{"phase"}),
		behavioursStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderer_behaviours_started_total",
			Help: "Behaviours started by kind",
		}, []string{"kind"}),
		linksFollowedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "narrative_links_followed_total",
			Help: "Total number of narrative links followed",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_commands_total",
			Help: "Viewer commands accepted by the session, by command",
		}, []string{"command"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playout_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.queuedSlots,
		m.activeSlots,
		m.instancesInUse,
		m.checkoutRejections,
		m.seekRetriesTotal,
		m.phaseTransitions,
		m.behavioursStarted,
		m.linksFollowedTotal,
		m.commandsTotal,
		m.requestDuration,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// SetPoolGauges sets the queued slot, active slot and instance gauges.
func (m *Metrics) SetPoolGauges(queued, active, instances int) {
	if m == nil {
		return
	}
	m.queuedSlots.Set(float64(queued))
	m.activeSlots.Set(float64(active))
	m.instancesInUse.Set(float64(instances))
}

// IncCheckoutRejected counts an activation refused for lack of a free output.
func (m *Metrics) IncCheckoutRejected(class string) {
	if m == nil {
		return
	}
	m.checkoutRejections.WithLabelValues(class).Inc()
}

// IncSeekRetries counts one reapplied seek.
func (m *Metrics) IncSeekRetries() {
	if m == nil {
		return
	}
	m.seekRetriesTotal.Inc()
}

// IncPhaseTransition counts a renderer entering phase.
func (m *Metrics) IncPhaseTransition(phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase).Inc()
}

// IncBehaviourStarted counts a behaviour of the given kind starting.
func (m *Metrics) IncBehaviourStarted(kind string) {
	if m == nil {
		return
	}
	m.behavioursStarted.WithLabelValues(kind).Inc()
}

// IncLinksFollowed increments the links followed counter.
func (m *Metrics) IncLinksFollowed() {
	if m == nil {
		return
	}
	m.linksFollowedTotal.Inc()
}

// ObserveRequest records the latency of one request to route.
func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncCommand counts an accepted viewer command.
func (m *Metrics) IncCommand(command string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. pool occupancy).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
