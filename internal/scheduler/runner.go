package scheduler

import (
	"log/slog"

	"narrative-playout/internal/behaviour"
)

// ApplyFunc starts b. It must call done once b has finished, possibly before
// returning. The returned cancel, if non-nil, is called when the run is torn
// down first.
type ApplyFunc func(b behaviour.Behaviour, done func()) (cancel func())

// Runner runs a set of behaviours side by side and reports when the last of
// them finishes.
type Runner struct {
	log     *slog.Logger
	gen     int
	pending int
	cancels []func()
}

// NewRunner returns an idle Runner.
func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log}
}

// Run starts every behaviour in bs and calls onDone once all of them have
// called done. It returns false, without calling onDone, when bs is empty.
// A new Run supersedes any earlier one still in flight.
func (r *Runner) Run(bs []behaviour.Behaviour, apply ApplyFunc, onDone func()) bool {
	if len(bs) == 0 {
		return false
	}
	r.Destroy()
	gen := r.gen
	r.pending = len(bs)

	for _, b := range bs {
		b := b
		finished := false
		done := func() {
			if finished || gen != r.gen {
				return
			}
			finished = true
			r.pending--
			r.log.Debug("completed behaviour finished",
				slog.String("behaviour_id", b.ID),
				slog.Int("remaining", r.pending))
			if r.pending == 0 {
				r.cancels = nil
				if onDone != nil {
					onDone()
				}
			}
		}
		if cancel := apply(b, done); cancel != nil && !finished && gen == r.gen {
			r.cancels = append(r.cancels, cancel)
		}
	}
	return true
}

// Pending returns the number of behaviours of the current run that have not
// finished.
func (r *Runner) Pending() int { return r.pending }

// Destroy cancels the current run. Late done calls are ignored.
func (r *Runner) Destroy() {
	r.gen++
	cancels := r.cancels
	r.cancels = nil
	r.pending = 0
	for _, cancel := range cancels {
		cancel()
	}
}
