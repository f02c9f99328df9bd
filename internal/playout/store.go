package playout

import "sort"

// SlotStore is the storage abstraction for pool slots.
// The Pool uses SlotStore for all slot reads and writes; callers of Pool do
// not need to know which SlotStore is used.
type SlotStore interface {
	Get(id RendererID) (*Slot, bool)
	Put(s *Slot)
	Delete(id RendererID)
	// IDs returns slot ids in ascending order.
	IDs() []RendererID
}

// InMemorySlotStore is an in-memory implementation of SlotStore.
type InMemorySlotStore struct {
	slots map[RendererID]*Slot
}

// NewInMemorySlotStore returns a new empty in-memory store.
func NewInMemorySlotStore() *InMemorySlotStore {
	return &InMemorySlotStore{
		slots: make(map[RendererID]*Slot),
	}
}

// Get implements SlotStore.Get.
func (s *InMemorySlotStore) Get(id RendererID) (*Slot, bool) {
	sl, ok := s.slots[id]
	return sl, ok
}

// Put implements SlotStore.Put.
func (s *InMemorySlotStore) Put(sl *Slot) {
	s.slots[sl.ID] = sl
}

// Delete implements SlotStore.Delete.
func (s *InMemorySlotStore) Delete(id RendererID) {
	delete(s.slots, id)
}

// IDs implements SlotStore.IDs.
func (s *InMemorySlotStore) IDs() []RendererID {
	ids := make([]RendererID, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
