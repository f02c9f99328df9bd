package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"narrative-playout/internal/clock"

	"github.com/go-chi/chi/v5"
)

// manualExec runs requests inline and then drains the manual clock, as the
// control loop would.
type manualExec struct{ clk *clock.Manual }

func (e manualExec) Do(_ context.Context, fn func()) error {
	fn()
	e.clk.Drain()
	return nil
}

type stoppedExec struct{}

func (stoppedExec) Do(context.Context, func()) error { return clock.ErrLoopStopped }

func newTestRouter(t *testing.T) (*fixture, *chi.Mux) {
	t.Helper()
	f := newFixture(t, sessionStory)
	h := NewHandler(f.sess, manualExec{clk: f.clk}, discardLogger(), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return f, r
}

func do(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_GetState(t *testing.T) {
	_, r := newTestRouter(t)

	rec := do(r, http.MethodGet, "/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Started {
		t.Errorf("expected unstarted session")
	}
	if st.Variables["open"] != true {
		t.Errorf("expected variable defaults, got %v", st.Variables)
	}
}

func TestHandler_Start(t *testing.T) {
	_, r := newTestRouter(t)

	if rec := do(r, http.MethodPost, "/session/start", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/session/start", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second start, got %d", rec.Code)
	}

	rec := do(r, http.MethodGet, "/session", nil)
	var st State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !st.Started || st.Element != "intro" {
		t.Errorf("expected started at intro, got started=%v element=%q", st.Started, st.Element)
	}
	if len(st.Buffered) != 2 {
		t.Errorf("expected 2 buffered elements, got %v", st.Buffered)
	}
}

func TestHandler_Transport(t *testing.T) {
	f, r := newTestRouter(t)

	if rec := do(r, http.MethodPost, "/session/transport/play", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before start, got %d", rec.Code)
	}
	do(r, http.MethodPost, "/session/start", nil)

	if rec := do(r, http.MethodPost, "/session/transport/pause", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if f.pool.IsPlaying() {
		t.Errorf("expected transport paused")
	}
	if rec := do(r, http.MethodPost, "/session/transport/rewind", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown action, got %d", rec.Code)
	}
}

func TestHandler_Choose(t *testing.T) {
	f, r := newTestRouter(t)

	if rec := do(r, http.MethodPost, "/session/choices/right", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before start, got %d", rec.Code)
	}
	do(r, http.MethodPost, "/session/start", nil)
	if rec := do(r, http.MethodPost, "/session/choices/right", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before the choice is shown, got %d", rec.Code)
	}

	f.clk.Advance(1500 * time.Millisecond)
	if rec := do(r, http.MethodPost, "/session/choices/nowhere", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a target not offered, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/session/choices/right", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	f.clk.Advance(1600 * time.Millisecond)
	if got := f.ctrl.CurrentID(); got != "right" {
		t.Errorf("expected current element right, got %q", got)
	}
}

func TestHandler_SetVariable(t *testing.T) {
	f, r := newTestRouter(t)

	b, _ := json.Marshal(map[string]interface{}{"value": false})
	if rec := do(r, http.MethodPut, "/session/variables/open", b); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if v, _ := f.ctrl.VariableValue("open"); v != false {
		t.Errorf("expected open=false, got %v", v)
	}

	if rec := do(r, http.MethodPut, "/session/variables/open", []byte("not json")); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	b, _ = json.Marshal(map[string]interface{}{"value": []int{1}})
	if rec := do(r, http.MethodPut, "/session/variables/open", b); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unsupported value, got %d", rec.Code)
	}
}

func TestHandler_GetSlots(t *testing.T) {
	_, r := newTestRouter(t)
	do(r, http.MethodPost, "/session/start", nil)

	rec := do(r, http.MethodGet, "/playout/slots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Slots []json.RawMessage `json:"slots"`
		Stats struct {
			Queued int `json:"queued"`
		} `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Stats.Queued != 2 {
		t.Errorf("expected 2 queued slots, got %d (stats %d)", len(resp.Slots), resp.Stats.Queued)
	}
}

func TestHandler_LoopStopped(t *testing.T) {
	f := newFixture(t, sessionStory)
	h := NewHandler(f.sess, stoppedExec{}, discardLogger(), nil)
	r := chi.NewRouter()
	h.Routes(r)

	if rec := do(r, http.MethodGet, "/session", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
