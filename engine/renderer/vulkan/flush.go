package vulkan

import (
	"math/bits"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
)

// FlushRenderState is the single entry point invoked before a draw or
// dispatch. Every step is skipped when its dirty bit is clear:
//  1. resolve/bind the pipeline object when static state, pipeline or
//     vertex shape changed; a different pipeline object re-dirties all
//     dynamic state,
//  2. flush dirty descriptor sets referenced by the active layout,
//  3. re-emit push constants,
//  4. re-emit dynamic state commands, gated on the static state
//     actually using the feature,
//  5. rebind vertex buffer slots that are dirty and referenced by the
//     active attribute layout.
func (rs *VulkanRenderState) FlushRenderState() error {
	core.Assert(rs.writer != nil, "flush outside BeginGraphics/BeginCompute")
	core.Assert(rs.program != nil, "flush with no shader program bound")
	if rs.bindPoint == vk.PipelineBindPointGraphics {
		core.Assert(rs.renderPass != nil, "graphics flush outside a render pass")
	}

	// (1) pipeline
	if rs.dirty&(dirtyStaticState|dirtyPipeline) != 0 {
		pipeline, err := rs.frame.PipelineCache.FlushPipeline(rs.context, rs)
		if err != nil {
			return err
		}
		if pipeline != rs.pipeline {
			rs.pipeline = pipeline
			rs.dirty |= dirtyDynamicState
			rs.dirtyVertexBuffers = allVertexBindingsMask
			rs.writer.BindPipeline(rs.bindPoint, pipeline)
		}
		rs.dirty &^= dirtyStaticState | dirtyPipeline
	}
	core.Assert(rs.pipeline != nil, "no pipeline resolved")

	// (2) descriptor sets. Only sets referenced by the active layout
	// are flushed; dirtiness of unreferenced sets survives for a future
	// layout that does reference them.
	flushMask := rs.dirtySets & rs.layout.Spec.DescriptorSetMask
	remaining := flushMask
	for remaining != 0 {
		set := uint32(bits.TrailingZeros32(remaining))
		remaining &= remaining - 1
		if err := rs.flushDescriptorSet(set); err != nil {
			return err
		}
	}
	rs.dirtySets &^= flushMask

	// (3) push constants
	if rs.dirty&dirtyPushConstants != 0 {
		if size := rs.layout.Spec.PushConstantSize(); size > 0 {
			rs.writer.PushConstants(rs.layout.Handle, rs.layout.Spec.PushConstantStages(),
				0, size, rs.pushConstants[:size])
		}
		rs.dirty &^= dirtyPushConstants
	}

	if rs.bindPoint == vk.PipelineBindPointCompute {
		return nil
	}

	// (4) dynamic state
	if rs.dirty&dirtyViewport != 0 {
		rs.writer.SetViewport(rs.viewport)
		rs.dirty &^= dirtyViewport
	}
	if rs.dirty&dirtyScissor != 0 {
		rs.writer.SetScissor(rs.scissor)
		rs.dirty &^= dirtyScissor
	}
	if rs.dirty&dirtyDepthBias != 0 {
		if rs.static.DepthBiasEnable {
			rs.writer.SetDepthBias(rs.depthBiasConstant, 0.0, rs.depthBiasSlope)
		}
		rs.dirty &^= dirtyDepthBias
	}
	if rs.dirty&dirtyStencilMasks != 0 {
		if rs.static.StencilTestEnable {
			front := vk.StencilFaceFlags(vk.StencilFaceFrontBit)
			back := vk.StencilFaceFlags(vk.StencilFaceBackBit)
			rs.writer.SetStencilCompareMask(front, rs.stencilCompare[0])
			rs.writer.SetStencilCompareMask(back, rs.stencilCompare[1])
			rs.writer.SetStencilWriteMask(front, rs.stencilWrite[0])
			rs.writer.SetStencilWriteMask(back, rs.stencilWrite[1])
			rs.writer.SetStencilReference(front, rs.stencilReference[0])
			rs.writer.SetStencilReference(back, rs.stencilReference[1])
		}
		rs.dirty &^= dirtyStencilMasks
	}
	if rs.dirty&dirtyBlendConstants != 0 {
		if rs.static.usesBlendConstants() {
			rs.writer.SetBlendConstants(rs.potential.BlendConstants)
		}
		rs.dirty &^= dirtyBlendConstants
	}

	// (5) vertex buffers
	activeBindings := attributeBindingMask(rs.layout.Spec, &rs.attributes)
	rebind := rs.dirtyVertexBuffers & activeBindings
	for rebind != 0 {
		binding := uint32(bits.TrailingZeros32(rebind))
		rebind &= rebind - 1
		slot := &rs.vertexBindings[binding]
		core.Assertf(slot.BufferID != 0, "draw with no vertex buffer bound to binding %d", binding)
		rs.writer.BindVertexBuffer(binding, slot.Buffer, slot.Offset)
	}
	rs.dirtyVertexBuffers &^= activeBindings

	return nil
}

// descriptorSetHash folds the content identity of every binding the
// layout references, in ascending binding order.
func (rs *VulkanRenderState) descriptorSetHash(set uint32) uint64 {
	info := &rs.layout.Spec.Sets[set]
	h := NewHasher()
	mask := info.BindingMask()
	for mask != 0 {
		binding := uint32(bits.TrailingZeros32(mask))
		mask &= mask - 1
		rb := &rs.bindings[set][binding]
		core.Assertf(rb.ContentID != 0, "descriptor set %d binding %d has no resource bound", set, binding)
		h.U32(binding)
		rb.hashInto(h)
	}
	return h.Value()
}

func (rs *VulkanRenderState) flushDescriptorSet(set uint32) error {
	allocator := rs.layout.Allocators[set]
	core.Assertf(allocator != nil, "layout references descriptor set %d but has no allocator", set)

	node, populated, err := allocator.Get(rs.descriptorSetHash(set))
	if err != nil {
		return err
	}
	if !populated {
		allocator.WriteSet(node, rs.descriptorSetWrites(set))
	}
	rs.writer.BindDescriptorSet(rs.bindPoint, rs.layout.Handle, set, node.Handle)
	return nil
}

// descriptorSetWrites assembles the native write structures for a
// freshly allocated set. DstSet is filled in by WriteSet.
func (rs *VulkanRenderState) descriptorSetWrites(set uint32) []vk.WriteDescriptorSet {
	info := &rs.layout.Spec.Sets[set]
	var writes []vk.WriteDescriptorSet
	mask := info.BindingMask()
	for mask != 0 {
		binding := uint32(bits.TrailingZeros32(mask))
		mask &= mask - 1
		rb := &rs.bindings[set][binding]

		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstBinding:      binding,
			DescriptorCount: 1,
			DescriptorType:  rb.Type,
		}
		switch rb.Type {
		case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: rb.Buffer,
				Offset: rb.BufferOffset,
				Range:  rb.BufferRange,
			}}
		case vk.DescriptorTypeUniformTexelBuffer:
			write.PTexelBufferView = []vk.BufferView{rb.TexelView}
		default:
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     rb.Sampler,
				ImageView:   rb.ImageView,
				ImageLayout: rb.ImageLayout,
			}}
		}
		writes = append(writes, write)
	}
	return writes
}
