package containers

// Handle addresses a slot inside a SlotArray.
type Handle int32

const NilHandle Handle = -1

// SlotArray is an arena of reusable slots addressed by index handles.
// Released slots go on a free list and are handed out again by Alloc,
// which keeps handle-based lists O(1) to maintain without raw pointer
// bookkeeping.
type SlotArray[T any] struct {
	slots []T
	free  []Handle
}

func NewSlotArray[T any]() *SlotArray[T] {
	return &SlotArray[T]{}
}

// Alloc returns a handle to a zeroed slot.
func (sa *SlotArray[T]) Alloc() Handle {
	var zero T
	if n := len(sa.free); n > 0 {
		h := sa.free[n-1]
		sa.free = sa.free[:n-1]
		sa.slots[h] = zero
		return h
	}
	sa.slots = append(sa.slots, zero)
	return Handle(len(sa.slots) - 1)
}

// Release returns the slot to the free list. The handle must not be
// used afterwards.
func (sa *SlotArray[T]) Release(h Handle) {
	var zero T
	sa.slots[h] = zero
	sa.free = append(sa.free, h)
}

// At returns the slot for h. The pointer is invalidated by the next
// Alloc call.
func (sa *SlotArray[T]) At(h Handle) *T {
	return &sa.slots[h]
}

// Len returns the number of live slots.
func (sa *SlotArray[T]) Len() int {
	return len(sa.slots) - len(sa.free)
}
