package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// VariableListener is notified after a story variable changes.
type VariableListener func(name string, value interface{})

// NavigationListener is notified after the current element changes.
type NavigationListener func(from, to ElementID)

// Controller is the narrative graph as seen by renderers.
type Controller interface {
	// ValidNextSteps returns the targets of the current element's links whose
	// conditions hold, in link order. It may be called off the control
	// goroutine.
	ValidNextSteps(ctx context.Context) ([]NextStep, error)
	CurrentElement() (*Element, bool)
	FollowLink(target ElementID) error
	VariableValue(name string) (interface{}, bool)
	SetVariableValue(name string, value interface{}) error
	VariableState() map[string]interface{}
	// Evaluate evaluates a Lua expression against the current variables.
	Evaluate(expr string) (interface{}, error)
	// OnVariableChanged registers fn and returns a function that removes it.
	OnVariableChanged(fn VariableListener) (unsubscribe func())
}

// StoryController is an in-memory Controller over a loaded Story.
//
// Link conditions are evaluated under a read lock so ValidNextSteps may run
// on a worker goroutine. Listeners are invoked on the caller's goroutine
// after the lock is released.
type StoryController struct {
	mu      sync.RWMutex
	story   *Story
	current ElementID
	vars    map[string]interface{}
	eval    *Evaluator
	log     *slog.Logger

	nextListener int
	varListeners map[int]VariableListener
	navListeners map[int]NavigationListener
}

// NewStoryController returns a controller positioned at the story's
// beginning with variables at their defaults.
func NewStoryController(story *Story, log *slog.Logger) (*StoryController, error) {
	if err := story.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	c := &StoryController{
		story:        story,
		eval:         NewEvaluator(),
		log:          log,
		varListeners: make(map[int]VariableListener),
		navListeners: make(map[int]NavigationListener),
	}
	c.Reset()
	return c, nil
}

// Story returns the story the controller walks.
func (c *StoryController) Story() *Story { return c.story }

// Reset moves back to the beginning and restores variable defaults.
func (c *StoryController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.story.Beginning
	c.vars = make(map[string]interface{}, len(c.story.Variables))
	for name, v := range c.story.Variables {
		// Validate has already checked defaults.
		val, _ := normalizeValue(v.Default)
		c.vars[name] = val
	}
}

// CurrentID returns the id of the current element.
func (c *StoryController) CurrentID() ElementID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// CurrentElement implements Controller.CurrentElement.
func (c *StoryController) CurrentElement() (*Element, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.story.Element(c.current)
}

// ValidNextSteps implements Controller.ValidNextSteps. Links whose condition
// fails to evaluate are logged and treated as invalid.
func (c *StoryController) ValidNextSteps(ctx context.Context) ([]NextStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	el, ok := c.story.Element(c.current)
	if !ok {
		c.mu.RUnlock()
		return nil, fmt.Errorf("current %q: %w", c.current, ErrUnknownElement)
	}
	vars := c.snapshotLocked()
	links := append([]Link(nil), el.Links...)
	c.mu.RUnlock()

	steps := make([]NextStep, 0, len(links))
	for _, link := range links {
		valid, err := c.eval.Condition(link.Condition, vars)
		if err != nil {
			c.log.Warn("link condition failed",
				slog.String("element_id", string(el.ID)),
				slog.String("target", string(link.Target)),
				slog.String("error", err.Error()))
			continue
		}
		if !valid {
			continue
		}
		target, ok := c.story.Element(link.Target)
		if !ok {
			continue
		}
		steps = append(steps, NextStep{Target: link.Target, Element: target})
	}
	return steps, nil
}

// FollowLink implements Controller.FollowLink.
func (c *StoryController) FollowLink(target ElementID) error {
	c.mu.Lock()
	if _, ok := c.story.Element(target); !ok {
		c.mu.Unlock()
		return fmt.Errorf("follow %q: %w", target, ErrUnknownElement)
	}
	from := c.current
	c.current = target
	listeners := sortedListeners(c.navListeners)
	c.mu.Unlock()

	c.log.Info("link followed", slog.String("from", string(from)), slog.String("to", string(target)))
	for _, fn := range listeners {
		fn(from, target)
	}
	return nil
}

// VariableValue implements Controller.VariableValue.
func (c *StoryController) VariableValue(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// SetVariableValue implements Controller.SetVariableValue.
func (c *StoryController) SetVariableValue(name string, value interface{}) error {
	val, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}

	c.mu.Lock()
	c.vars[name] = val
	listeners := sortedListeners(c.varListeners)
	c.mu.Unlock()

	c.log.Debug("variable set", slog.String("name", name), slog.Any("value", val))
	for _, fn := range listeners {
		fn(name, val)
	}
	return nil
}

// VariableState implements Controller.VariableState.
func (c *StoryController) VariableState() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Evaluate implements Controller.Evaluate.
func (c *StoryController) Evaluate(expr string) (interface{}, error) {
	return c.eval.Eval(expr, c.VariableState())
}

// OnVariableChanged implements Controller.OnVariableChanged.
func (c *StoryController) OnVariableChanged(fn VariableListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.varListeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.varListeners, id)
	}
}

// OnNavigate registers fn for element changes and returns a function that
// removes it.
func (c *StoryController) OnNavigate(fn NavigationListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.navListeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.navListeners, id)
	}
}

// snapshotLocked copies the variable map. Caller must hold c.mu.
func (c *StoryController) snapshotLocked() map[string]interface{} {
	out := make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

func sortedListeners[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
