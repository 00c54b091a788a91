package vulkan

import (
	"github.com/spaghettifunk/aurora/engine/containers"
)

/**
 * @brief Supplies and retires the objects held by a VulkanHashCache.
 * Implementations may allocate in blocks to amortize native pool
 * creation (see the descriptor set allocator).
 */
type CachePolicy[T any] interface {
	Allocate() (T, error)
	Release(item T)
	Clear()
}

/**
 * @brief CachePolicy backed by plain allocate/release functions, for
 * caches whose objects are created one at a time.
 */
type FuncPolicy[T any] struct {
	AllocateFn func() (T, error)
	ReleaseFn  func(item T)
}

func (p FuncPolicy[T]) Allocate() (T, error) {
	return p.AllocateFn()
}

func (p FuncPolicy[T]) Release(item T) {
	if p.ReleaseFn != nil {
		p.ReleaseFn(item)
	}
}

func (p FuncPolicy[T]) Clear() {}

// Each cached object remembers the hash it was created under for the
// reverse map lookup during eviction, and the ring it currently lives in.
type cacheSlot[T any] struct {
	item T
	hash uint64
	ring uint8
	pos  int32
}

/**
 * @brief Content-addressed object pool with frame-scoped eviction.
 * Items move to the current frame's ring whenever requested; an item
 * not requested for framesUntilEviction BeginFrame calls is destroyed
 * when its ring comes up for reuse.
 *
 * Not internally synchronized. Callers that share a cache across
 * encoding threads serialize through the lock pool (see pool.go).
 */
type VulkanHashCache[T any] struct {
	policy CachePolicy[T]
	index  map[uint64]containers.Handle
	slots  *containers.SlotArray[cacheSlot[T]]
	rings  [][]containers.Handle
	ring   uint8
}

func NewVulkanHashCache[T any](framesUntilEviction uint8, policy CachePolicy[T]) *VulkanHashCache[T] {
	return &VulkanHashCache[T]{
		policy: policy,
		index:  make(map[uint64]containers.Handle),
		slots:  containers.NewSlotArray[cacheSlot[T]](),
		rings:  make([][]containers.Handle, framesUntilEviction+1),
	}
}

// Obtain returns the item cached under hash, moving it to the current
// ring. When absent a fresh item is allocated from the policy and
// returned with populated=false; the caller must fill it before use.
// Obtain never fails for capacity reasons, only when the policy cannot
// create a native object.
func (c *VulkanHashCache[T]) Obtain(hash uint64) (T, bool, error) {
	if h, ok := c.index[hash]; ok {
		s := c.slots.At(h)
		if s.ring != c.ring {
			c.ringRemove(h)
			c.ringPush(h)
		}
		return s.item, true, nil
	}

	item, err := c.policy.Allocate()
	if err != nil {
		var zero T
		return zero, false, err
	}

	h := c.slots.Alloc()
	s := c.slots.At(h)
	s.item = item
	s.hash = hash
	c.ringPush(h)
	c.index[hash] = h
	return item, false, nil
}

// BeginFrame advances the ring index and evicts everything still parked
// in the ring about to be reused. With framesUntilEviction=2 an item
// survives as long as it is requested at least once every 3 frames.
func (c *VulkanHashCache[T]) BeginFrame() {
	c.ring = (c.ring + 1) % uint8(len(c.rings))
	for _, h := range c.rings[c.ring] {
		s := c.slots.At(h)
		delete(c.index, s.hash)
		c.policy.Release(s.item)
		c.slots.Release(h)
	}
	c.rings[c.ring] = c.rings[c.ring][:0]
}

// Clear evicts everything unconditionally. Used at shutdown.
func (c *VulkanHashCache[T]) Clear() {
	for i := range c.rings {
		for _, h := range c.rings[i] {
			s := c.slots.At(h)
			delete(c.index, s.hash)
			c.policy.Release(s.item)
			c.slots.Release(h)
		}
		c.rings[i] = c.rings[i][:0]
	}
	c.policy.Clear()
}

// Len returns the number of resident items.
func (c *VulkanHashCache[T]) Len() int {
	return len(c.index)
}

func (c *VulkanHashCache[T]) ringPush(h containers.Handle) {
	s := c.slots.At(h)
	s.ring = c.ring
	s.pos = int32(len(c.rings[c.ring]))
	c.rings[c.ring] = append(c.rings[c.ring], h)
}

// ringRemove swap-removes the slot from its ring and fixes up the moved
// slot's position index.
func (c *VulkanHashCache[T]) ringRemove(h containers.Handle) {
	s := c.slots.At(h)
	ring := c.rings[s.ring]
	last := int32(len(ring) - 1)
	if s.pos != last {
		moved := ring[last]
		ring[s.pos] = moved
		c.slots.At(moved).pos = s.pos
	}
	c.rings[s.ring] = ring[:last]
}
