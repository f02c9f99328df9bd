package renderer

import "sort"

// Event is a lifecycle notification for the sequencer.
type Event string

const (
	EventConstructed               Event = "constructed"
	EventStarted                   Event = "started"
	EventStartedCompleteBehaviours Event = "started_complete_behaviours"
	EventCompleted                 Event = "completed"
	EventDestroyed                 Event = "destroyed"
)

type emitter struct {
	next      int
	listeners map[Event]map[int]func()
}

func (e *emitter) on(ev Event, fn func()) func() {
	if e.listeners == nil {
		e.listeners = make(map[Event]map[int]func())
	}
	if e.listeners[ev] == nil {
		e.listeners[ev] = make(map[int]func())
	}
	e.next++
	id := e.next
	e.listeners[ev][id] = fn
	return func() { delete(e.listeners[ev], id) }
}

// emit calls the listeners for ev in registration order. Listeners added
// during emission wait for the next emission.
func (e *emitter) emit(ev Event) {
	ls := e.listeners[ev]
	ids := make([]int, 0, len(ls))
	for id := range ls {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := ls[id]; ok {
			fn()
		}
	}
}

func (e *emitter) reset() { e.listeners = nil }
