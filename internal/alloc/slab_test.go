package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSlabInsertGet tests basic insertion and lookup
func TestSlabInsertGet(t *testing.T) {
	s := NewSlab[string](4)

	a := s.Insert("a")
	b := s.Insert("b")

	if a.Index == b.Index {
		t.Fatalf("Expected distinct indices, got %v and %v", a, b)
	}
	if s.Len() != 2 {
		t.Errorf("Expected length 2, got %d", s.Len())
	}

	v, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", *v)

	v, ok = s.At(b.Index)
	require.True(t, ok)
	assert.Equal(t, "b", *v)
}

// TestSlabGetMutatesInPlace tests that Get returns a pointer into the slab
func TestSlabGetMutatesInPlace(t *testing.T) {
	s := NewSlab[int](0)
	h := s.Insert(1)

	v, ok := s.Get(h)
	require.True(t, ok)
	*v = 42

	v, _ = s.Get(h)
	assert.Equal(t, 42, *v)
}

// TestSlabStaleHandleAfterReuse tests that a reused slot is not visible through an old handle
func TestSlabStaleHandleAfterReuse(t *testing.T) {
	s := NewSlab[string](0)
	old := s.Insert("old")

	removed, ok := s.Remove(old)
	require.True(t, ok)
	assert.Equal(t, "old", removed)

	fresh := s.Insert("fresh")
	assert.Equal(t, old.Index, fresh.Index, "freed slot should be reused")
	assert.NotEqual(t, old.Gen, fresh.Gen)

	_, ok = s.Get(old)
	assert.False(t, ok, "stale handle must report not present")
	assert.False(t, s.Contains(old))

	v, ok := s.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, "fresh", *v)

	// Removing through the stale handle must not evict the new occupant.
	_, ok = s.Remove(old)
	assert.False(t, ok)
	assert.True(t, s.Contains(fresh))
}

// TestSlabRemoveAtUnoccupied tests removal of free and out-of-range slots
func TestSlabRemoveAtUnoccupied(t *testing.T) {
	s := NewSlab[int](0)
	h := s.Insert(1)
	_, ok := s.RemoveAt(h.Index)
	require.True(t, ok)

	_, ok = s.RemoveAt(h.Index)
	assert.False(t, ok)
	_, ok = s.RemoveAt(99)
	assert.False(t, ok)
	_, ok = s.At(NoIndex)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, s.Cap())
}

// TestSlabRangeSkipsFreeSlots tests iteration over occupied slots only
func TestSlabRangeSkipsFreeSlots(t *testing.T) {
	s := NewSlab[int](0)
	var handles []Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, s.Insert(i))
	}
	s.Remove(handles[1])
	s.Remove(handles[3])

	var got []int
	s.Range(func(h Handle, v *int) bool {
		got = append(got, *v)
		return true
	})
	assert.Equal(t, []int{0, 2, 4}, got)

	count := 0
	s.Range(func(Handle, *int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count, "Range should stop when fn returns false")
}

// TestSlabRestoreRoundTrip tests rebuilding a slab from generations and entries
func TestSlabRestoreRoundTrip(t *testing.T) {
	s := NewSlab[string](0)
	a := s.Insert("a")
	b := s.Insert("b")
	c := s.Insert("c")
	s.Remove(b)

	var entries []Entry[string]
	s.Range(func(h Handle, v *string) bool {
		entries = append(entries, Entry[string]{Index: h.Index, Value: *v})
		return true
	})

	restored, err := Restore(s.Generations(), entries)
	require.NoError(t, err)

	assert.Equal(t, s.Len(), restored.Len())
	assert.Equal(t, s.Cap(), restored.Cap())
	for _, h := range []Handle{a, c} {
		v, ok := restored.Get(h)
		require.True(t, ok)
		orig, _ := s.Get(h)
		assert.Equal(t, *orig, *v)
	}
	assert.False(t, restored.Contains(b))

	// The freed slot is still reusable with a bumped generation.
	d := restored.Insert("d")
	assert.Equal(t, b.Index, d.Index)
	assert.NotEqual(t, b.Gen, d.Gen)
}

// TestSlabRestoreRejectsBadEntries tests validation during restore
func TestSlabRestoreRejectsBadEntries(t *testing.T) {
	_, err := Restore([]uint32{0, 0}, []Entry[int]{{Index: 2, Value: 1}})
	assert.Error(t, err)

	_, err = Restore([]uint32{0, 0}, []Entry[int]{{Index: 1, Value: 1}, {Index: 1, Value: 2}})
	assert.Error(t, err)
}
