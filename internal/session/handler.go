package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/metrics"
	"narrative-playout/internal/playout"

	"github.com/go-chi/chi/v5"
)

// Executor runs fn on the session's control goroutine and waits for it.
// *clock.Loop implements it.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	sess    *Session
	exec    Executor
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler for sess. Every request touches the session
// through exec. Metrics may be nil to disable metric recording (e.g. in
// tests).
func NewHandler(sess *Session, exec Executor, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{sess: sess, exec: exec, log: log, metrics: m}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Post("/start", h.Start)
		r.Post("/transport/{action}", h.Transport)
		r.Post("/choices/{target}", h.Choose)
		r.Put("/variables/{name}", h.SetVariable)
	})
	r.Get("/playout/slots", h.GetSlots)
}

// GetState handles GET /session.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	var st State
	if !h.run(w, r, func() { st = h.sess.State() }) {
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// Start handles POST /session/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var err error
	if !h.run(w, r, func() { err = h.sess.Start() }) {
		return
	}
	if err != nil {
		if errors.Is(err, ErrAlreadyStarted) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		h.log.Error("start session failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("session start requested", slog.String("session_id", h.sess.ID()))
	w.WriteHeader(http.StatusAccepted)
	h.metrics.IncCommand("start")
}

// Transport handles POST /session/transport/{action}.
func (h *Handler) Transport(w http.ResponseWriter, r *http.Request) {
	action := Action(chi.URLParam(r, "action"))
	if action == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var err error
	if !h.run(w, r, func() { err = h.sess.Transport(action) }) {
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownAction):
			h.log.Debug("unknown transport action", slog.String("action", string(action)))
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, ErrNotStarted):
			w.WriteHeader(http.StatusConflict)
		default:
			h.log.Error("transport failed", slog.String("action", string(action)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.metrics.IncCommand(string(action))
}

// Choose handles POST /session/choices/{target}.
func (h *Handler) Choose(w http.ResponseWriter, r *http.Request) {
	target := narrative.ElementID(chi.URLParam(r, "target"))
	if target == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var err error
	if !h.run(w, r, func() { err = h.sess.Choose(target) }) {
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, linkchoice.ErrNotOffered):
			h.log.Info("choice rejected", slog.String("target", string(target)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, ErrNotStarted), errors.Is(err, ErrStoryEnded), errors.Is(err, linkchoice.ErrNoChoice):
			h.log.Info("choice rejected", slog.String("target", string(target)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusConflict)
		default:
			h.log.Error("choose failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	h.log.Debug("link chosen", slog.String("target", string(target)))
	w.WriteHeader(http.StatusAccepted)
	h.metrics.IncCommand("choose")
}

// SetVariable handles PUT /session/variables/{name}.
// Body: { "value": 3 }.
func (h *Handler) SetVariable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid variable body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var err error
	if !h.run(w, r, func() { err = h.sess.SetVariable(name, body.Value) }) {
		return
	}
	if err != nil {
		h.log.Info("variable rejected", slog.String("name", name), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.metrics.IncCommand("set_variable")
}

// GetSlots handles GET /playout/slots.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Slots []playout.SlotInfo `json:"slots"`
		Stats playout.Stats      `json:"stats"`
	}
	if !h.run(w, r, func() {
		resp.Slots = h.sess.pool.Slots()
		resp.Stats = h.sess.pool.Stats()
	}) {
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// run executes fn on the control goroutine. It writes 503 and returns false
// when the loop is gone.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if err := h.exec.Do(r.Context(), fn); err != nil {
		h.log.Warn("control loop unavailable", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}
