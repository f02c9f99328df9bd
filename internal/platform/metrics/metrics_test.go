package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRequests()
		m.IncErrors()
		m.SetPoolGauges(1, 2, 3)
		m.IncCheckoutRejected("foreground")
		m.IncSeekRetries()
		m.IncPhaseTransition("MAIN")
		m.IncBehaviourStarted("pause")
		m.IncLinksFollowed()
		m.IncCommand("choose")
		m.ObserveRequest("/session", 0)
	})
}

func TestMetrics_HandlerExposesCounters(t *testing.T) {
	m := New()
	m.IncCheckoutRejected("foreground")
	m.IncPhaseTransition("MAIN")
	m.IncCommand("play")

	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/metrics", m.Handler(func() { m.SetPoolGauges(2, 1, 1) }).ServeHTTP)
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `playout_checkout_rejections_total{class="foreground"} 1`)
	assert.Contains(t, body, `renderer_phase_transitions_total{phase="MAIN"} 1`)
	assert.Contains(t, body, "playout_queued_slots 2")
	assert.Contains(t, body, "playout_errors_total 1")
	assert.Contains(t, body, `session_commands_total{command="play"} 1`)
	assert.Contains(t, body, `playout_request_duration_seconds_count{route="/missing"} 1`)
}
