package renderer

import (
	"fmt"
	"log/slog"
	"time"

	"narrative-playout/internal/behaviour"
	"narrative-playout/internal/clock"
	"narrative-playout/internal/fade"
)

// applyFunc starts behaviour b on r. done must be called once b has
// finished; during behaviours may ignore it. The returned cancel, if
// non-nil, undoes b and may fail when its surface node is already gone.
type applyFunc func(r *Renderer, b behaviour.Behaviour, done func()) (cancel func() error)

// handlers is the behaviour dispatch table. A representation using a kind
// missing from it is rejected by New.
var handlers = map[behaviour.Kind]applyFunc{
	behaviour.KindShowLinkChoices:    applyLinkChoices,
	behaviour.KindPause:              applyPause,
	behaviour.KindManipulateVariable: applyManipulateVariable,
	behaviour.KindColourOverlay:      applyColourOverlay,
	behaviour.KindShowImage:          applyShowImage,
	behaviour.KindTextOverlay:        applyTextOverlay,
	behaviour.KindFadeIn:             applyVisualFade(true),
	behaviour.KindFadeOut:            applyVisualFade(false),
	behaviour.KindFadeAudioIn:        applyAudioFade(true),
	behaviour.KindFadeAudioOut:       applyAudioFade(false),
}

// CheckBehaviours returns ErrUnsupportedBehaviour for the first kind in s
// that has no handler.
func CheckBehaviours(s behaviour.Set) error {
	for _, k := range s.Kinds() {
		if _, ok := handlers[k]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedBehaviour, k)
		}
	}
	return nil
}

func applyLinkChoices(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	r.resolver.Show(b, done)
	return func() error {
		r.resolver.Abort()
		return nil
	}
}

// applyPause holds for PauseTime seconds. A negative PauseTime holds until
// the viewer skips it with the transport.
func applyPause(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	var timer clock.Timer
	finish := func() {
		clock.StopTimer(timer)
		r.pauseSkip = nil
		done()
	}
	r.pauseSkip = finish
	if b.PauseTime >= 0 {
		timer = r.clk.AfterFunc(seconds(b.PauseTime), finish)
	}
	return func() error {
		clock.StopTimer(timer)
		r.pauseSkip = nil
		return nil
	}
}

func applyManipulateVariable(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	defer done()
	v, err := r.ctrl.Evaluate(b.Operation)
	if err != nil {
		r.log.Error("variable operation failed",
			slog.String("behaviour_id", b.ID),
			slog.String("variable", b.TargetVariable),
			slog.String("error", err.Error()))
		return nil
	}
	if err := r.ctrl.SetVariableValue(b.TargetVariable, v); err != nil {
		r.log.Error("could not set variable",
			slog.String("behaviour_id", b.ID),
			slog.String("variable", b.TargetVariable),
			slog.String("error", err.Error()))
	}
	return nil
}

func applyColourOverlay(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	r.surface.AddNode(r.id, Node{ID: b.ID, Kind: NodeColour, Colour: b.Colour, Class: b.OverlayClass, Opacity: 1})
	done()
	return r.nodeRemover(b.ID)
}

func applyTextOverlay(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	r.surface.AddNode(r.id, Node{ID: b.ID, Kind: NodeText, Text: b.Text, Class: b.OverlayClass, Opacity: 1})
	done()
	return r.nodeRemover(b.ID)
}

// applyShowImage resolves the image off the control goroutine. A failed
// fetch skips the image and still finishes the behaviour.
func applyShowImage(r *Renderer, b behaviour.Behaviour, done func()) func() error {
	cancelled := false
	acID, ok := r.rep.ResolveMapping(b.Image)
	if !ok {
		r.log.Warn("no asset collection for image mapping", slog.String("mapping_id", b.Image))
		done()
		return nil
	}
	ctx := r.ctx
	clock.Await(r.clk, func() (string, error) {
		ac, err := r.fetcher.FetchAssetCollection(ctx, acID)
		if err != nil {
			return "", err
		}
		return r.fetcher.FetchMedia(ctx, ac.Assets.ImageSrc)
	}, func(u string, err error) {
		if r.destroyed || cancelled {
			return
		}
		if err != nil {
			r.log.Error("could not fetch behaviour image",
				slog.String("behaviour_id", b.ID), slog.String("error", err.Error()))
			done()
			return
		}
		r.surface.AddNode(r.id, Node{ID: b.ID, Kind: NodeImage, ImageURL: u, Class: b.OverlayClass, Opacity: 1})
		done()
	})
	remove := r.nodeRemover(b.ID)
	return func() error {
		cancelled = true
		return remove()
	}
}

// applyVisualFade fades a colour overlay. Fading in starts opaque and
// reveals the content; fading out covers it.
func applyVisualFade(in bool) applyFunc {
	return func(r *Renderer, b behaviour.Behaviour, done func()) func() error {
		colour := b.Colour
		if colour == "" {
			colour = "black"
		}
		from, to := 0.0, 1.0
		if in {
			from, to = 1, 0
		}
		r.surface.AddNode(r.id, Node{ID: b.ID, Kind: NodeColour, Colour: colour, Class: b.OverlayClass, Opacity: from})
		f := fade.Start(r.clk, from, to, seconds(b.Duration), r.policy.FadeStep, nil,
			func(v float64) { r.surface.SetNodeOpacity(r.id, b.ID, v) }, done)
		remove := r.nodeRemover(b.ID)
		return func() error {
			f.Stop()
			return remove()
		}
	}
}

func applyAudioFade(in bool) applyFunc {
	return func(r *Renderer, b behaviour.Behaviour, done func()) func() error {
		from, to := 1.0, 0.0
		if v, ok := r.pool.Volume(r.id); ok {
			from = v
		}
		if in {
			from, to = 0, 1
		}
		f := fade.Start(r.clk, from, to, seconds(b.Duration), r.policy.FadeStep, nil,
			func(v float64) { r.pool.SetVolume(r.id, v) }, done)
		return func() error {
			f.Stop()
			return nil
		}
	}
}

func (r *Renderer) nodeRemover(id string) func() error {
	return func() error { return r.surface.RemoveNode(r.id, id) }
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
