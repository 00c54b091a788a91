package vulkan

import (
	"github.com/spaghettifunk/aurora/engine/containers"
	"github.com/spaghettifunk/aurora/engine/core"
)

// One batch of destructions waiting on a submission serial.
type pendingBatch struct {
	serial   uint64
	destroys []func()
}

/**
 * @brief Pending-destruction queue keyed by submission serial. Retired
 * native objects may still be referenced by in-flight command buffers;
 * Defer parks their destructors until the submission collaborator
 * reports the serial complete.
 *
 * Batches are drained strictly in serial order, so the queue stays a
 * plain FIFO: serials only grow.
 */
type VulkanRecycler struct {
	pending *containers.RingQueue[*pendingBatch]
}

func NewVulkanRecycler() *VulkanRecycler {
	return &VulkanRecycler{
		pending: containers.NewRingQueue[*pendingBatch](8),
	}
}

// Defer schedules destroy to run once serial is reported complete.
// Consecutive Defer calls under the same serial share one batch.
func (r *VulkanRecycler) Defer(serial uint64, destroy func()) {
	if batch, ok := r.pending.PeekBack(); ok && batch.serial == serial {
		batch.destroys = append(batch.destroys, destroy)
		return
	}
	if batch, ok := r.pending.PeekBack(); ok {
		core.Assertf(serial > batch.serial, "submission serial went backwards: %d after %d", serial, batch.serial)
	}
	r.pending.Enqueue(&pendingBatch{
		serial:   serial,
		destroys: []func(){destroy},
	})
}

// OnSerialCompleted runs every destructor deferred under a serial less
// than or equal to the completed one. Called by the submission
// collaborator once device work for the serial has finished.
func (r *VulkanRecycler) OnSerialCompleted(serial uint64) {
	for {
		batch, ok := r.pending.Peek()
		if !ok || batch.serial > serial {
			return
		}
		r.pending.Dequeue()
		for _, destroy := range batch.destroys {
			destroy()
		}
		core.LogDebug("recycled %d object(s) of serial %d", len(batch.destroys), batch.serial)
	}
}

// DrainOnFence blocks on the fence, then releases everything pending
// up to serial. Shutdown convenience wrapping the submission
// collaborator's completion signal.
func (r *VulkanRecycler) DrainOnFence(context *VulkanContext, fence *VulkanFence, serial uint64) {
	if fence != nil {
		fence.FenceWait(context, ^uint64(0))
	}
	r.OnSerialCompleted(serial)
}

// Flush runs every pending destructor regardless of serial. Only valid
// once the device is known idle.
func (r *VulkanRecycler) Flush() {
	for {
		batch, ok := r.pending.Dequeue()
		if !ok {
			return
		}
		for _, destroy := range batch.destroys {
			destroy()
		}
	}
}

// PendingBatches reports how many serial batches are still parked.
func (r *VulkanRecycler) PendingBatches() int {
	return r.pending.Len()
}
