package vulkan

import (
	"fmt"
	"math/bits"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Per-set binding-type masks reflected from shader bytecode by
 * the shader-compiler collaborator. Bit b of a mask marks binding index
 * b; the masks are mutually exclusive per bit.
 */
type DescriptorSetLayoutInfo struct {
	SampledImageMask    uint32
	StorageImageMask    uint32
	UniformBufferMask   uint32
	StorageBufferMask   uint32
	SampledBufferMask   uint32
	InputAttachmentMask uint32
	StageFlags          vk.ShaderStageFlags
}

// BindingMask returns the union of all per-type masks.
func (info *DescriptorSetLayoutInfo) BindingMask() uint32 {
	return info.SampledImageMask | info.StorageImageMask | info.UniformBufferMask |
		info.StorageBufferMask | info.SampledBufferMask | info.InputAttachmentMask
}

func (info *DescriptorSetLayoutInfo) Empty() bool {
	return info.BindingMask() == 0
}

// descriptorTypeAt resolves the binding type for one binding index.
// Exactly one mask may have the bit set; that exclusivity is validated
// when reflections are merged.
func (info *DescriptorSetLayoutInfo) descriptorTypeAt(binding uint32) (vk.DescriptorType, bool) {
	bit := uint32(1) << binding
	switch {
	case info.SampledImageMask&bit != 0:
		return vk.DescriptorTypeCombinedImageSampler, true
	case info.StorageImageMask&bit != 0:
		return vk.DescriptorTypeStorageImage, true
	case info.UniformBufferMask&bit != 0:
		return vk.DescriptorTypeUniformBuffer, true
	case info.StorageBufferMask&bit != 0:
		return vk.DescriptorTypeStorageBuffer, true
	case info.SampledBufferMask&bit != 0:
		return vk.DescriptorTypeUniformTexelBuffer, true
	case info.InputAttachmentMask&bit != 0:
		return vk.DescriptorTypeInputAttachment, true
	}
	return 0, false
}

// hashInto folds the masks in declared field order.
func (info *DescriptorSetLayoutInfo) hashInto(h *Hasher) {
	h.U32(info.SampledImageMask)
	h.U32(info.StorageImageMask)
	h.U32(info.UniformBufferMask)
	h.U32(info.StorageBufferMask)
	h.U32(info.SampledBufferMask)
	h.U32(info.InputAttachmentMask)
	h.U32(uint32(info.StageFlags))
}

/**
 * @brief Immutable, hashable aggregate describing everything a pipeline
 * layout depends on: active vertex attributes, render targets, per-set
 * binding masks and the push constant ranges. Two specs are equal iff
 * every field and sub-hash matches.
 */
type PipelineLayoutSpec struct {
	AttributeMask      uint32
	RenderTargetMask   uint32
	DescriptorSetMask  uint32
	Sets               [VULKAN_MAX_DESCRIPTOR_SETS]DescriptorSetLayoutInfo
	PushConstantRanges []vk.PushConstantRange

	hash             uint64
	pushConstantHash uint64
}

// bake computes DescriptorSetMask and the two hashes. Hash order:
// attribute mask, render target mask, each set's masks in set order,
// then the push constant sub-hash.
func (s *PipelineLayoutSpec) bake() {
	s.DescriptorSetMask = 0
	for i := range s.Sets {
		if !s.Sets[i].Empty() {
			s.DescriptorSetMask |= 1 << uint32(i)
		}
	}

	ph := NewHasher()
	for _, r := range s.PushConstantRanges {
		ph.U32(uint32(r.StageFlags))
		ph.U32(r.Offset)
		ph.U32(r.Size)
	}
	s.pushConstantHash = ph.Value()

	h := NewHasher()
	h.U32(s.AttributeMask)
	h.U32(s.RenderTargetMask)
	for i := range s.Sets {
		s.Sets[i].hashInto(h)
	}
	h.U64(s.pushConstantHash)
	s.hash = h.Value()
}

func (s *PipelineLayoutSpec) Hash() uint64 {
	core.Assert(s.hash != 0, "pipeline layout spec used before bake")
	return s.hash
}

func (s *PipelineLayoutSpec) PushConstantHash() uint64 {
	core.Assert(s.pushConstantHash != 0, "pipeline layout spec used before bake")
	return s.pushConstantHash
}

// PushConstantSize returns the total byte size covered by the ranges.
func (s *PipelineLayoutSpec) PushConstantSize() uint32 {
	var size uint32
	for _, r := range s.PushConstantRanges {
		if end := r.Offset + r.Size; end > size {
			size = end
		}
	}
	return size
}

// PushConstantStages returns the union of the ranges' stage flags.
func (s *PipelineLayoutSpec) PushConstantStages() vk.ShaderStageFlags {
	var stages vk.ShaderStageFlags
	for _, r := range s.PushConstantRanges {
		stages |= r.StageFlags
	}
	return stages
}

// attributeBindingMask derives which vertex buffer bindings the active
// attributes pull from.
func attributeBindingMask(spec *PipelineLayoutSpec, attributes *[VULKAN_MAX_VERTEX_ATTRIBUTES]VertexAttribute) uint32 {
	var mask uint32
	attrs := spec.AttributeMask
	for attrs != 0 {
		attr := uint32(bits.TrailingZeros32(attrs))
		attrs &= attrs - 1
		mask |= 1 << attributes[attr].Binding
	}
	return mask
}

// descriptorSetDiff decides which descriptor sets become dirty when the
// bound program changes from old to new. A different push constant
// layout invalidates every set plus the push constants themselves;
// otherwise only the sets from the first index whose layout differs
// onward are invalidated.
func descriptorSetDiff(old, new *PipelineLayoutSpec) (setMask uint32, pushDirty bool) {
	const allSets = (1 << VULKAN_MAX_DESCRIPTOR_SETS) - 1
	if old == nil {
		return allSets, true
	}
	if old.PushConstantHash() != new.PushConstantHash() {
		return allSets, true
	}
	for i := 0; i < VULKAN_MAX_DESCRIPTOR_SETS; i++ {
		if old.Sets[i] != new.Sets[i] {
			// Invalidate this set and everything after it; Vulkan
			// unbinds higher sets when a lower one becomes incompatible.
			return ^uint32(0) << uint32(i) & allSets, false
		}
	}
	return 0, false
}

/**
 * @brief A native pipeline layout plus the per-set native layouts and
 * the descriptor set allocators serving them. Obtained from the frame's
 * layout cache; shared between pipelines with equal specs.
 */
type VulkanPipelineLayout struct {
	Handle     vk.PipelineLayout
	SetLayouts [VULKAN_MAX_DESCRIPTOR_SETS]vk.DescriptorSetLayout
	Allocators [VULKAN_MAX_DESCRIPTOR_SETS]*VulkanDescriptorSetAllocator
	Spec       *PipelineLayoutSpec
}

// descriptorSetLayoutBindings expands one set's masks into native
// layout bindings, in ascending binding order.
func descriptorSetLayoutBindings(info *DescriptorSetLayoutInfo) []vk.DescriptorSetLayoutBinding {
	var out []vk.DescriptorSetLayoutBinding
	mask := info.BindingMask()
	for mask != 0 {
		binding := uint32(bits.TrailingZeros32(mask))
		mask &= mask - 1
		descriptorType, ok := info.descriptorTypeAt(binding)
		core.Assertf(ok, "descriptor set binding %d has no type bit", binding)
		out = append(out, vk.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  descriptorType,
			DescriptorCount: 1,
			StageFlags:      info.StageFlags,
		})
	}
	return out
}

func newPipelineLayout(context *VulkanContext, frame *VulkanFrame, spec *PipelineLayoutSpec) (*VulkanPipelineLayout, error) {
	layout := &VulkanPipelineLayout{Spec: spec}

	setLayouts := make([]vk.DescriptorSetLayout, 0, VULKAN_MAX_DESCRIPTOR_SETS)
	for i := 0; i < VULKAN_MAX_DESCRIPTOR_SETS; i++ {
		if spec.DescriptorSetMask&(1<<uint32(i)) == 0 {
			continue
		}
		allocator, err := frame.RequestDescriptorAllocator(DescriptorSetLayoutKey{Info: spec.Sets[i]})
		if err != nil {
			return nil, err
		}
		layout.Allocators[i] = allocator
		layout.SetLayouts[i] = allocator.Layout
		setLayouts = append(setLayouts, allocator.Layout)
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if len(spec.PushConstantRanges) > 0 {
		createInfo.PushConstantRangeCount = uint32(len(spec.PushConstantRanges))
		createInfo.PPushConstantRanges = spec.PushConstantRanges
	}
	createInfo.Deref()

	if err := lockPool.SafeCall(PipelineManagement, func() error {
		var handle vk.PipelineLayout
		result := vk.CreatePipelineLayout(context.Device, &createInfo, context.Allocator, &handle)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(result, true))
		}
		layout.Handle = handle
		return nil
	}); err != nil {
		return nil, err
	}
	return layout, nil
}

func (layout *VulkanPipelineLayout) Destroy(context *VulkanContext) {
	// Set layouts belong to the descriptor allocators; only the
	// pipeline layout handle is owned here.
	if layout.Handle != nil {
		vk.DestroyPipelineLayout(context.Device, layout.Handle, context.Allocator)
		layout.Handle = nil
	}
}
