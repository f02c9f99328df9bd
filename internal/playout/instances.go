package playout

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when an activation needs an output of a class
// whose capacity is fully checked out.
var ErrPoolExhausted = errors.New("no free media output")

// Instance is a physical output checked out by exactly one slot.
type Instance struct {
	ID     string
	Class  Class
	Output Output
}

// OutputFactory creates a new physical output of the given class.
type OutputFactory func(class Class) Output

// InstanceManager hands out outputs per class up to a fixed capacity and
// recycles returned ones.
type InstanceManager struct {
	capacity  map[Class]int
	created   map[Class]int
	free      map[Class][]*Instance
	inUse     map[*Instance]bool
	newOutput OutputFactory
}

// NewInstanceManager returns a manager with the given per-class capacity.
// A class missing from capacity, or with capacity <= 0, is unbounded.
func NewInstanceManager(capacity map[Class]int, factory OutputFactory) *InstanceManager {
	caps := make(map[Class]int, len(capacity))
	for c, n := range capacity {
		caps[c] = n
	}
	return &InstanceManager{
		capacity:  caps,
		created:   make(map[Class]int),
		free:      make(map[Class][]*Instance),
		inUse:     make(map[*Instance]bool),
		newOutput: factory,
	}
}

// Checkout returns a free instance of class for owner, creating one if the
// class is below capacity. It returns ErrPoolExhausted otherwise; no
// instance held by another owner is ever reassigned.
func (m *InstanceManager) Checkout(class Class, owner RendererID) (*Instance, error) {
	if free := m.free[class]; len(free) > 0 {
		inst := free[len(free)-1]
		m.free[class] = free[:len(free)-1]
		m.inUse[inst] = true
		return inst, nil
	}
	if limit := m.capacity[class]; limit > 0 && m.created[class] >= limit {
		return nil, fmt.Errorf("%w: class %s (capacity %d) for %s", ErrPoolExhausted, class, limit, owner)
	}
	m.created[class]++
	inst := &Instance{
		ID:     fmt.Sprintf("%s-%d", class, m.created[class]),
		Class:  class,
		Output: m.newOutput(class),
	}
	m.inUse[inst] = true
	return inst, nil
}

// Return resets inst and makes it available to other slots.
func (m *InstanceManager) Return(inst *Instance) {
	if inst == nil || !m.inUse[inst] {
		return
	}
	delete(m.inUse, inst)
	inst.Output.Reset()
	m.free[inst.Class] = append(m.free[inst.Class], inst)
}

// InUse returns the number of checked-out instances.
func (m *InstanceManager) InUse() int { return len(m.inUse) }

// Capacity returns the configured capacity of class, 0 meaning unbounded.
func (m *InstanceManager) Capacity(class Class) int { return m.capacity[class] }
