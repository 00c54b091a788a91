package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief The command emission surface the render-state tracker writes
 * through. The Vulkan-backed implementation is VulkanCommandBuffer;
 * tests substitute a recorder.
 */
type CommandWriter interface {
	BindPipeline(bindPoint vk.PipelineBindPoint, pipeline *VulkanPipeline)
	BindDescriptorSet(bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, set uint32, handle vk.DescriptorSet)
	BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize)
	PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32, data []byte)
	SetViewport(viewport vk.Viewport)
	SetScissor(scissor vk.Rect2D)
	SetDepthBias(constant, clamp, slope float32)
	SetStencilCompareMask(faces vk.StencilFaceFlags, mask uint32)
	SetStencilWriteMask(faces vk.StencilFaceFlags, mask uint32)
	SetStencilReference(faces vk.StencilFaceFlags, reference uint32)
	SetBlendConstants(constants [4]float32)
}

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	commandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}
	allocateInfo.Deref()

	handles := make([]vk.CommandBuffer, 1)
	if err := lockPool.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device, &allocateInfo, handles); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkAllocateCommandBuffers failed with %s", VulkanResultString(res, true))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	commandBuffer.Handle = handles[0]
	commandBuffer.State = COMMAND_BUFFER_STATE_READY
	return commandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	vk.FreeCommandBuffers(context.Device, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

// BeginRenderPass records the native render-pass begin with the given
// clear values and marks the buffer as inside a pass. The tracker's
// BeginRenderPass handles the state side; this is the command side.
func (v *VulkanCommandBuffer) BeginRenderPass(pass *VulkanRenderPass, framebuffer *VulkanFramebuffer, renderArea vk.Rect2D, clearValues []vk.ClearValue) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      pass.Handle,
		Framebuffer:     framebuffer.Handle,
		RenderArea:      renderArea,
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	beginInfo.Deref()

	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) NextSubpass() {
	vk.CmdNextSubpass(v.Handle, vk.SubpassContentsInline)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

// CommandWriter implementation.

func (v *VulkanCommandBuffer) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline *VulkanPipeline) {
	vk.CmdBindPipeline(v.Handle, bindPoint, pipeline.Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorSet(bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, set uint32, handle vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(v.Handle, bindPoint, layout, set, 1, []vk.DescriptorSet{handle}, 0, nil)
}

func (v *VulkanCommandBuffer) BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize) {
	vk.CmdBindVertexBuffers(v.Handle, binding, 1, []vk.Buffer{buffer}, []vk.DeviceSize{offset})
}

func (v *VulkanCommandBuffer) PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32, data []byte) {
	vk.CmdPushConstants(v.Handle, layout, stages, offset, size, unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) SetViewport(viewport vk.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{viewport})
}

func (v *VulkanCommandBuffer) SetScissor(scissor vk.Rect2D) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) SetDepthBias(constant, clamp, slope float32) {
	vk.CmdSetDepthBias(v.Handle, constant, clamp, slope)
}

func (v *VulkanCommandBuffer) SetStencilCompareMask(faces vk.StencilFaceFlags, mask uint32) {
	vk.CmdSetStencilCompareMask(v.Handle, faces, mask)
}

func (v *VulkanCommandBuffer) SetStencilWriteMask(faces vk.StencilFaceFlags, mask uint32) {
	vk.CmdSetStencilWriteMask(v.Handle, faces, mask)
}

func (v *VulkanCommandBuffer) SetStencilReference(faces vk.StencilFaceFlags, reference uint32) {
	vk.CmdSetStencilReference(v.Handle, faces, reference)
}

func (v *VulkanCommandBuffer) SetBlendConstants(constants [4]float32) {
	vk.CmdSetBlendConstants(v.Handle, &constants)
}

/**
 * Allocates and begins recording to a single-use command buffer.
 */
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false, false); err != nil {
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for queue operation and frees the provided command buffer.
 */
func (v *VulkanCommandBuffer) EndSingleUse(context *VulkanContext, pool vk.CommandPool, queue vk.Queue) error {
	// End the command buffer.
	if err := v.End(); err != nil {
		return err
	}

	// Submit the queue
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		err := fmt.Errorf("failed submit info to queue")
		core.LogError(err.Error())
		return err
	}

	// Wait for it to finish
	if res := vk.QueueWaitIdle(queue); res != vk.Success {
		err := fmt.Errorf("queue failed to wait in idle mode")
		core.LogError(err.Error())
		return err
	}

	// Free the command buffer.
	v.Free(context, pool)

	return nil
}
