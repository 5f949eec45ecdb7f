package alloc

import (
	"fmt"
	"math"
)

// Index identifies a slot in a Slab. Indices are dense and small, which lets
// side tables (such as the metadata cache) be plain slices.
type Index uint32

// NoIndex marks an absent reference, e.g. the parent of the root node.
const NoIndex Index = math.MaxUint32

// Valid reports whether i refers to a slot at all.
func (i Index) Valid() bool {
	return i != NoIndex
}

// Handle is an index paired with the generation of the slot at the time the
// value was inserted. A handle outlives its value safely: once the slot is
// freed the generation moves on and lookups through the old handle fail.
type Handle struct {
	Index Index
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Gen)
}

// slot is one storage cell
type slot[T any] struct {
	value    T
	gen      uint32
	occupied bool
}

// Slab is an arena of values addressed by stable indices with a free list
// for reclaimed slots. It is not safe for concurrent mutation; callers
// serialize writers (see core.NodeStore).
type Slab[T any] struct {
	slots []slot[T]
	free  []Index
	len   int
}

// NewSlab creates an empty slab with room for capacity values before growing.
func NewSlab[T any](capacity int) *Slab[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Slab[T]{slots: make([]slot[T], 0, capacity)}
}

// Insert stores v and returns its handle. Freed slots are reused before the
// slab grows.
func (s *Slab[T]) Insert(v T) Handle {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		sl := &s.slots[idx]
		sl.value = v
		sl.occupied = true
		s.len++
		return Handle{Index: idx, Gen: sl.gen}
	}

	if uint64(len(s.slots)) >= uint64(NoIndex) {
		panic("alloc: slab index space exhausted")
	}
	idx := Index(len(s.slots))
	s.slots = append(s.slots, slot[T]{value: v, occupied: true})
	s.len++
	return Handle{Index: idx}
}

// Get returns the value behind h, or false when the slot is free or has been
// reused since h was issued.
func (s *Slab[T]) Get(h Handle) (*T, bool) {
	if int64(h.Index) >= int64(len(s.slots)) {
		return nil, false
	}
	sl := &s.slots[h.Index]
	if !sl.occupied || sl.gen != h.Gen {
		return nil, false
	}
	return &sl.value, true
}

// At returns the current occupant of slot i regardless of generation.
// Use it for references the owner keeps consistent itself, such as child
// lists; external holders should use Get with a Handle.
func (s *Slab[T]) At(i Index) (*T, bool) {
	if int64(i) >= int64(len(s.slots)) {
		return nil, false
	}
	sl := &s.slots[i]
	if !sl.occupied {
		return nil, false
	}
	return &sl.value, true
}

// HandleOf returns the handle of the current occupant of slot i.
func (s *Slab[T]) HandleOf(i Index) (Handle, bool) {
	if int64(i) >= int64(len(s.slots)) || !s.slots[i].occupied {
		return Handle{}, false
	}
	return Handle{Index: i, Gen: s.slots[i].gen}, true
}

// Contains reports whether h still names a live value.
func (s *Slab[T]) Contains(h Handle) bool {
	_, ok := s.Get(h)
	return ok
}

// Remove frees the slot behind h and returns the value it held. Stale handles
// are a no-op.
func (s *Slab[T]) Remove(h Handle) (T, bool) {
	if !s.Contains(h) {
		var zero T
		return zero, false
	}
	return s.RemoveAt(h.Index)
}

// RemoveAt frees slot i, bumps its generation and puts it on the free list.
func (s *Slab[T]) RemoveAt(i Index) (T, bool) {
	var zero T
	if int64(i) >= int64(len(s.slots)) {
		return zero, false
	}
	sl := &s.slots[i]
	if !sl.occupied {
		return zero, false
	}
	v := sl.value
	sl.value = zero
	sl.occupied = false
	sl.gen++
	s.free = append(s.free, i)
	s.len--
	return v, true
}

// Range calls fn for every occupied slot in index order until fn returns false.
// fn must not insert or remove.
func (s *Slab[T]) Range(fn func(h Handle, v *T) bool) {
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.occupied {
			continue
		}
		if !fn(Handle{Index: Index(i), Gen: sl.gen}, &sl.value) {
			return
		}
	}
}

// Len returns the number of occupied slots.
func (s *Slab[T]) Len() int {
	return s.len
}

// Cap returns the number of slots, occupied or free.
func (s *Slab[T]) Cap() int {
	return len(s.slots)
}

// Generations returns a copy of every slot's generation counter, indexed by
// slot. Together with the occupied values it fully describes the slab.
func (s *Slab[T]) Generations() []uint32 {
	gens := make([]uint32, len(s.slots))
	for i := range s.slots {
		gens[i] = s.slots[i].gen
	}
	return gens
}

// Entry is one occupied slot, used to rebuild a slab.
type Entry[T any] struct {
	Index Index
	Value T
}

// Restore rebuilds a slab from per-slot generations and the occupied entries.
// Every entry must fall inside gens and no slot may appear twice.
func Restore[T any](gens []uint32, entries []Entry[T]) (*Slab[T], error) {
	if uint64(len(gens)) > uint64(NoIndex) {
		return nil, fmt.Errorf("slab of %d slots exceeds index space", len(gens))
	}
	s := &Slab[T]{slots: make([]slot[T], len(gens))}
	for i, g := range gens {
		s.slots[i].gen = g
	}
	for _, e := range entries {
		if int64(e.Index) >= int64(len(gens)) {
			return nil, fmt.Errorf("slot %d out of range (capacity %d)", e.Index, len(gens))
		}
		sl := &s.slots[e.Index]
		if sl.occupied {
			return nil, fmt.Errorf("slot %d restored twice", e.Index)
		}
		sl.value = e.Value
		sl.occupied = true
		s.len++
	}
	// Lowest free index is popped first.
	for i := len(s.slots) - 1; i >= 0; i-- {
		if !s.slots[i].occupied {
			s.free = append(s.free, Index(i))
		}
	}
	return s, nil
}
