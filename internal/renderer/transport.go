package renderer

import (
	"log/slog"
	"math"
)

// onTransport reacts to the transport buttons. Play and pause skip a held
// pause behaviour; seek-forward does too once the content has completed.
func (r *Renderer) onTransport(a TransportAction) {
	switch a {
	case ActionPlay, ActionPause:
		r.skipPause()
	case ActionSeekForward:
		if r.phase == PhaseCompleting {
			r.skipPause()
			return
		}
		r.seekBy(r.policy.SeekStep)
	case ActionSeekBack:
		if r.phase == PhaseCompleting {
			return
		}
		r.seekBy(-r.policy.SeekStep)
	}
}

// seekBy moves the timeline by delta seconds, clamped at zero and at the
// content's duration. SetCurrentTime caps it at the first link choice.
func (r *Renderer) seekBy(delta float64) {
	if r.phase != PhaseMain {
		return
	}
	ti := r.content.CurrentTime()
	target := math.Max(0, ti.CurrentTime+delta)
	if ti.Duration != nil {
		target = math.Min(target, *ti.Duration)
	}
	r.log.Debug("seek", slog.Float64("from", ti.CurrentTime), slog.Float64("to", target))
	r.SetCurrentTime(target)
}

func (r *Renderer) skipPause() {
	if r.pauseSkip == nil {
		return
	}
	r.log.Info("pause behaviour skipped")
	r.pauseSkip()
}
