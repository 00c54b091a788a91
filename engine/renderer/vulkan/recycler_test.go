package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecyclerBatchesConsecutiveSerials(t *testing.T) {
	r := NewVulkanRecycler()
	r.Defer(1, func() {})
	r.Defer(1, func() {})
	assert.Equal(t, 1, r.PendingBatches())
	r.Defer(2, func() {})
	assert.Equal(t, 2, r.PendingBatches())
}

func TestRecyclerDrainsInOrderUpToSerial(t *testing.T) {
	r := NewVulkanRecycler()
	var order []int
	mark := func(n int) func() { return func() { order = append(order, n) } }

	r.Defer(1, mark(1))
	r.Defer(2, mark(2))
	r.Defer(2, mark(3))
	r.Defer(4, mark(4))

	r.OnSerialCompleted(2)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 1, r.PendingBatches())

	// Completing a serial between batches drains nothing.
	r.OnSerialCompleted(3)
	assert.Equal(t, []int{1, 2, 3}, order)

	r.OnSerialCompleted(4)
	assert.Equal(t, []int{1, 2, 3, 4}, order)
	assert.Zero(t, r.PendingBatches())
}

func TestRecyclerRejectsBackwardsSerial(t *testing.T) {
	r := NewVulkanRecycler()
	r.Defer(5, func() {})
	assert.Panics(t, func() { r.Defer(3, func() {}) })
}

func TestRecyclerFlushRunsEverything(t *testing.T) {
	r := NewVulkanRecycler()
	ran := 0
	for serial := uint64(1); serial <= 3; serial++ {
		r.Defer(serial, func() { ran++ })
	}
	r.Flush()
	assert.Equal(t, 3, ran)
	assert.Zero(t, r.PendingBatches())
}

func TestRecyclerDrainOnFenceWithoutFence(t *testing.T) {
	r := NewVulkanRecycler()
	ran := false
	r.Defer(1, func() { ran = true })
	r.DrainOnFence(&VulkanContext{}, nil, 1)
	assert.True(t, ran)
}
