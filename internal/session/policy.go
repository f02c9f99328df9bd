package session

import (
	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/platform/config"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/renderer"
)

// RendererPolicy maps the configured timings onto a renderer policy.
func RendererPolicy(p config.Playback) renderer.Policy {
	return renderer.Policy{
		StartRetry:      p.StartRetry,
		Tick:            p.Tick,
		SeekStep:        p.SeekStep,
		ControlHideLead: p.ControlHideLead,
		InspectInterval: p.InspectInterval,
		StallWindow:     p.StallWindow,
		StallTimeout:    p.StallTimeout,
		FadeStep:        p.FadeStep,
		Choice: linkchoice.Policy{
			FadeDelay: p.ChoiceFadeDelay,
			FadeStep:  p.FadeStep,
		},
	}
}

// SeekPolicy maps the configured seek correction values.
func SeekPolicy(p config.Playback) playout.SeekPolicy {
	return playout.SeekPolicy{
		RetryInterval: p.SeekRetryInterval,
		MaxAttempts:   p.SeekMaxAttempts,
		Tolerance:     p.SeekTolerance,
	}
}

// Capacity returns the output capacity per class.
func Capacity(p config.Playback) map[playout.Class]int {
	return map[playout.Class]int{
		playout.ClassForeground: p.ForegroundOutputs,
		playout.ClassBackground: p.BackgroundOutputs,
	}
}
