package vulkan

import (
	"bytes"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
)

type dirtyFlags uint32

const (
	dirtyStaticState dirtyFlags = 1 << iota
	dirtyPipeline
	dirtyPushConstants
	dirtyViewport
	dirtyScissor
	dirtyDepthBias
	dirtyStencilMasks
	dirtyBlendConstants
)

// Dynamic state is configured on the pipeline object; switching to a
// different pipeline invalidates all of it.
const dirtyDynamicState = dirtyViewport | dirtyScissor | dirtyDepthBias |
	dirtyStencilMasks | dirtyBlendConstants

const dirtyAll = dirtyStaticState | dirtyPipeline | dirtyPushConstants | dirtyDynamicState

const allSetsMask = (1 << VULKAN_MAX_DESCRIPTOR_SETS) - 1
const allVertexBindingsMask = (1 << VULKAN_MAX_VERTEX_BINDINGS) - 1

type StencilOps struct {
	FailOp      vk.StencilOp
	PassOp      vk.StencilOp
	DepthFailOp vk.StencilOp
	CompareOp   vk.CompareOp
}

/**
 * @brief The packed fixed-function state baked into pipeline objects.
 * Hashed field-by-field in declared order (see hashInto); any change
 * here marks the static state dirty and forces a pipeline lookup.
 */
type StaticPipelineState struct {
	DepthTestEnable   bool
	DepthWriteEnable  bool
	DepthCompareOp    vk.CompareOp
	DepthBiasEnable   bool
	StencilTestEnable bool
	StencilFront      StencilOps
	StencilBack       StencilOps
	BlendEnable       bool
	SrcColorBlend     vk.BlendFactor
	DstColorBlend     vk.BlendFactor
	ColorBlendOp      vk.BlendOp
	SrcAlphaBlend     vk.BlendFactor
	DstAlphaBlend     vk.BlendFactor
	AlphaBlendOp      vk.BlendOp
	CullMode          vk.CullModeFlagBits
	FrontFace         vk.FrontFace
	Topology          vk.PrimitiveTopology
	ColorWriteMask    vk.ColorComponentFlags
	Wireframe         bool
}

// hashInto folds every field in declared order.
func (s *StaticPipelineState) hashInto(h *Hasher) {
	h.Bool(s.DepthTestEnable)
	h.Bool(s.DepthWriteEnable)
	h.I32(int32(s.DepthCompareOp))
	h.Bool(s.DepthBiasEnable)
	h.Bool(s.StencilTestEnable)
	for _, ops := range []StencilOps{s.StencilFront, s.StencilBack} {
		h.I32(int32(ops.FailOp))
		h.I32(int32(ops.PassOp))
		h.I32(int32(ops.DepthFailOp))
		h.I32(int32(ops.CompareOp))
	}
	h.Bool(s.BlendEnable)
	h.I32(int32(s.SrcColorBlend))
	h.I32(int32(s.DstColorBlend))
	h.I32(int32(s.ColorBlendOp))
	h.I32(int32(s.SrcAlphaBlend))
	h.I32(int32(s.DstAlphaBlend))
	h.I32(int32(s.AlphaBlendOp))
	h.U32(uint32(s.CullMode))
	h.I32(int32(s.FrontFace))
	h.I32(int32(s.Topology))
	h.U32(uint32(s.ColorWriteMask))
	h.Bool(s.Wireframe)
}

func blendFactorReferencesConstant(f vk.BlendFactor) bool {
	switch f {
	case vk.BlendFactorConstantColor, vk.BlendFactorOneMinusConstantColor,
		vk.BlendFactorConstantAlpha, vk.BlendFactorOneMinusConstantAlpha:
		return true
	}
	return false
}

// usesBlendConstants reports whether any active blend factor reads the
// blend constant color, which decides whether the constants enter the
// pipeline hash and whether they are re-emitted as dynamic state.
func (s *StaticPipelineState) usesBlendConstants() bool {
	if !s.BlendEnable {
		return false
	}
	return blendFactorReferencesConstant(s.SrcColorBlend) ||
		blendFactorReferencesConstant(s.DstColorBlend) ||
		blendFactorReferencesConstant(s.SrcAlphaBlend) ||
		blendFactorReferencesConstant(s.DstAlphaBlend)
}

/**
 * @brief State that only becomes part of a pipeline's identity when the
 * static state actually consumes it.
 */
type PotentialStaticState struct {
	BlendConstants [4]float32
}

type VertexAttribute struct {
	Binding uint32
	Format  vk.Format
	Offset  uint32
}

type VertexBufferBinding struct {
	// Content identity of the bound buffer, 0 when unbound.
	BufferID  uint64
	Buffer    vk.Buffer
	Offset    vk.DeviceSize
	Stride    uint32
	InputRate vk.VertexInputRate
}

/**
 * @brief One bound shader resource: a discriminated union over buffer,
 * image and texel buffer views, tagged with the resource's content
 * identity so that recreating an equivalent native object does not
 * invalidate descriptor set cache keys.
 */
type ResourceBinding struct {
	ContentID uint64
	Type      vk.DescriptorType

	Buffer       vk.Buffer
	BufferOffset vk.DeviceSize
	BufferRange  vk.DeviceSize

	ImageView   vk.ImageView
	Sampler     vk.Sampler
	ImageLayout vk.ImageLayout

	TexelView vk.BufferView
}

// resourceBindingChanged compares the identity-relevant fields; native
// handles are deliberately excluded so handle reuse alone never marks a
// set dirty.
func resourceBindingChanged(a, b *ResourceBinding) bool {
	return a.ContentID != b.ContentID ||
		a.Type != b.Type ||
		a.BufferOffset != b.BufferOffset ||
		a.BufferRange != b.BufferRange ||
		a.ImageLayout != b.ImageLayout
}

// hashInto folds the binding's identity fields in declared order.
func (rb *ResourceBinding) hashInto(h *Hasher) {
	h.U64(rb.ContentID)
	h.I32(int32(rb.Type))
	h.U64(uint64(rb.BufferOffset))
	h.U64(uint64(rb.BufferRange))
	h.I32(int32(rb.ImageLayout))
}

/**
 * @brief Dirty-bit tracked mutable pipeline state for one encoding
 * context. Single-threaded; every method runs to completion. Multiple
 * encoding contexts must not share an instance, but may share the
 * caches owned by the frame when externally synchronized.
 */
type VulkanRenderState struct {
	context *VulkanContext
	frame   *VulkanFrame
	writer  CommandWriter

	bindPoint vk.PipelineBindPoint
	program   *VulkanShaderProgram
	layout    *VulkanPipelineLayout
	pipeline  *VulkanPipeline

	renderPass   *VulkanRenderPass
	subpassIndex uint32

	static    StaticPipelineState
	potential PotentialStaticState

	viewport          vk.Viewport
	scissor           vk.Rect2D
	depthBiasConstant float32
	depthBiasSlope    float32
	stencilCompare    [2]uint32
	stencilWrite      [2]uint32
	stencilReference  [2]uint32

	attributes     [VULKAN_MAX_VERTEX_ATTRIBUTES]VertexAttribute
	vertexBindings [VULKAN_MAX_VERTEX_BINDINGS]VertexBufferBinding
	pushConstants  [VULKAN_MAX_PUSH_CONSTANT_SIZE]byte
	bindings       [VULKAN_MAX_DESCRIPTOR_SETS][VULKAN_MAX_BINDINGS_PER_SET]ResourceBinding

	dirty              dirtyFlags
	dirtySets          uint32
	dirtyVertexBuffers uint32
}

func NewVulkanRenderState(frame *VulkanFrame) *VulkanRenderState {
	return &VulkanRenderState{
		context: frame.Context,
		frame:   frame,
	}
}

// BeginGraphics enters the graphics super-state: everything is dirty,
// no program or pipeline is bound and the binding content tables are
// cleared.
func (rs *VulkanRenderState) BeginGraphics(writer CommandWriter) {
	rs.begin(writer, vk.PipelineBindPointGraphics)
}

// BeginCompute enters the compute super-state.
func (rs *VulkanRenderState) BeginCompute(writer CommandWriter) {
	rs.begin(writer, vk.PipelineBindPointCompute)
}

func (rs *VulkanRenderState) begin(writer CommandWriter, bindPoint vk.PipelineBindPoint) {
	core.Assert(writer != nil, "begin requires a command writer")
	rs.writer = writer
	rs.bindPoint = bindPoint
	rs.program = nil
	rs.layout = nil
	rs.pipeline = nil
	rs.renderPass = nil
	rs.subpassIndex = 0
	rs.dirty = dirtyAll
	rs.dirtySets = allSetsMask
	rs.dirtyVertexBuffers = allVertexBindingsMask
	rs.bindings = [VULKAN_MAX_DESCRIPTOR_SETS][VULKAN_MAX_BINDINGS_PER_SET]ResourceBinding{}
}

// BeginRenderPass records the active pass and subpass; both feed the
// pipeline hash. The caller owns vkCmdBeginRenderPass emission.
func (rs *VulkanRenderState) BeginRenderPass(pass *VulkanRenderPass, subpass uint32) {
	core.Assert(pass != nil, "BeginRenderPass requires a render pass")
	rs.renderPass = pass
	rs.subpassIndex = subpass
	rs.dirty |= dirtyPipeline
}

// NextSubpass advances the tracked subpass index. The caller owns the
// vkCmdNextSubpass emission.
func (rs *VulkanRenderState) NextSubpass() {
	core.Assert(rs.renderPass != nil, "NextSubpass outside a render pass")
	core.Assertf(rs.subpassIndex+1 < uint32(len(rs.renderPass.Subpasses)),
		"subpass %d out of range", rs.subpassIndex+1)
	rs.subpassIndex++
	rs.dirty |= dirtyPipeline
}

func (rs *VulkanRenderState) setStatic(changed bool) {
	if changed {
		rs.dirty |= dirtyStaticState
	}
}

func (rs *VulkanRenderState) SetDepthTest(test, write bool) {
	rs.setStatic(rs.static.DepthTestEnable != test || rs.static.DepthWriteEnable != write)
	rs.static.DepthTestEnable = test
	rs.static.DepthWriteEnable = write
}

func (rs *VulkanRenderState) SetDepthCompareOp(op vk.CompareOp) {
	rs.setStatic(rs.static.DepthCompareOp != op)
	rs.static.DepthCompareOp = op
}

func (rs *VulkanRenderState) SetDepthBiasEnable(enable bool) {
	rs.setStatic(rs.static.DepthBiasEnable != enable)
	rs.static.DepthBiasEnable = enable
}

func (rs *VulkanRenderState) SetStencilTest(enable bool) {
	rs.setStatic(rs.static.StencilTestEnable != enable)
	rs.static.StencilTestEnable = enable
}

func (rs *VulkanRenderState) SetStencilFrontOps(ops StencilOps) {
	rs.setStatic(rs.static.StencilFront != ops)
	rs.static.StencilFront = ops
}

func (rs *VulkanRenderState) SetStencilBackOps(ops StencilOps) {
	rs.setStatic(rs.static.StencilBack != ops)
	rs.static.StencilBack = ops
}

func (rs *VulkanRenderState) SetBlendEnable(enable bool) {
	rs.setStatic(rs.static.BlendEnable != enable)
	rs.static.BlendEnable = enable
}

func (rs *VulkanRenderState) SetBlendFactors(srcColor, dstColor, srcAlpha, dstAlpha vk.BlendFactor) {
	rs.setStatic(rs.static.SrcColorBlend != srcColor || rs.static.DstColorBlend != dstColor ||
		rs.static.SrcAlphaBlend != srcAlpha || rs.static.DstAlphaBlend != dstAlpha)
	rs.static.SrcColorBlend = srcColor
	rs.static.DstColorBlend = dstColor
	rs.static.SrcAlphaBlend = srcAlpha
	rs.static.DstAlphaBlend = dstAlpha
}

func (rs *VulkanRenderState) SetBlendOps(color, alpha vk.BlendOp) {
	rs.setStatic(rs.static.ColorBlendOp != color || rs.static.AlphaBlendOp != alpha)
	rs.static.ColorBlendOp = color
	rs.static.AlphaBlendOp = alpha
}

// SetBlendConstants updates the potential static state. The constants
// are emitted as dynamic state; they only enter the pipeline hash when
// an active blend factor consumes them.
func (rs *VulkanRenderState) SetBlendConstants(constants [4]float32) {
	if rs.potential.BlendConstants != constants {
		rs.potential.BlendConstants = constants
		rs.dirty |= dirtyBlendConstants
	}
}

func (rs *VulkanRenderState) SetCullMode(mode vk.CullModeFlagBits) {
	rs.setStatic(rs.static.CullMode != mode)
	rs.static.CullMode = mode
}

func (rs *VulkanRenderState) SetFrontFace(face vk.FrontFace) {
	rs.setStatic(rs.static.FrontFace != face)
	rs.static.FrontFace = face
}

func (rs *VulkanRenderState) SetTopology(topology vk.PrimitiveTopology) {
	rs.setStatic(rs.static.Topology != topology)
	rs.static.Topology = topology
}

func (rs *VulkanRenderState) SetColorWriteMask(mask vk.ColorComponentFlags) {
	rs.setStatic(rs.static.ColorWriteMask != mask)
	rs.static.ColorWriteMask = mask
}

func (rs *VulkanRenderState) SetWireframe(wireframe bool) {
	rs.setStatic(rs.static.Wireframe != wireframe)
	rs.static.Wireframe = wireframe
}

func (rs *VulkanRenderState) SetViewport(viewport vk.Viewport) {
	rs.viewport = viewport
	rs.dirty |= dirtyViewport
}

func (rs *VulkanRenderState) SetScissor(scissor vk.Rect2D) {
	rs.scissor = scissor
	rs.dirty |= dirtyScissor
}

func (rs *VulkanRenderState) SetDepthBias(constant, slope float32) {
	if rs.depthBiasConstant != constant || rs.depthBiasSlope != slope {
		rs.depthBiasConstant = constant
		rs.depthBiasSlope = slope
		rs.dirty |= dirtyDepthBias
	}
}

func (rs *VulkanRenderState) SetStencilMasks(compareMask, writeMask, reference uint32) {
	rs.SetStencilFrontMasks(compareMask, writeMask, reference)
	rs.SetStencilBackMasks(compareMask, writeMask, reference)
}

func (rs *VulkanRenderState) SetStencilFrontMasks(compareMask, writeMask, reference uint32) {
	rs.setStencilMasks(0, compareMask, writeMask, reference)
}

func (rs *VulkanRenderState) SetStencilBackMasks(compareMask, writeMask, reference uint32) {
	rs.setStencilMasks(1, compareMask, writeMask, reference)
}

func (rs *VulkanRenderState) setStencilMasks(face int, compareMask, writeMask, reference uint32) {
	if rs.stencilCompare[face] != compareMask || rs.stencilWrite[face] != writeMask ||
		rs.stencilReference[face] != reference {
		rs.stencilCompare[face] = compareMask
		rs.stencilWrite[face] = writeMask
		rs.stencilReference[face] = reference
		rs.dirty |= dirtyStencilMasks
	}
}

// SetVertexAttribute declares the layout of one vertex attribute. A
// change reshapes the vertex input state and therefore the pipeline.
func (rs *VulkanRenderState) SetVertexAttribute(attribute, binding uint32, format vk.Format, offset uint32) {
	core.Assertf(attribute < VULKAN_MAX_VERTEX_ATTRIBUTES, "vertex attribute %d out of range", attribute)
	core.Assertf(binding < VULKAN_MAX_VERTEX_BINDINGS, "vertex binding %d out of range", binding)
	next := VertexAttribute{Binding: binding, Format: format, Offset: offset}
	if rs.attributes[attribute] != next {
		rs.attributes[attribute] = next
		rs.dirty |= dirtyPipeline
	}
}

// BindVertexBuffer binds a buffer to a vertex binding slot. The return
// value reports whether a pipeline rebuild is required, which is the
// case only when stride or step rate changed; buffer identity or offset
// changes are dynamic state and only require a rebind.
func (rs *VulkanRenderState) BindVertexBuffer(binding uint32, bufferID uint64, buffer vk.Buffer, offset vk.DeviceSize, stride uint32, inputRate vk.VertexInputRate) bool {
	core.Assertf(binding < VULKAN_MAX_VERTEX_BINDINGS, "vertex binding %d out of range", binding)
	slot := &rs.vertexBindings[binding]

	rebuild := slot.Stride != stride || slot.InputRate != inputRate
	if rebuild {
		rs.dirty |= dirtyPipeline
	}
	if slot.BufferID != bufferID || slot.Offset != offset {
		rs.dirtyVertexBuffers |= 1 << binding
	}

	slot.BufferID = bufferID
	slot.Buffer = buffer
	slot.Offset = offset
	slot.Stride = stride
	slot.InputRate = inputRate
	return rebuild
}

// SetShaderProgram binds a program. A no-op when the program is already
// current; otherwise the pipeline goes dirty and descriptor set
// dirtiness is recomputed by diffing the old and new layout specs.
func (rs *VulkanRenderState) SetShaderProgram(program *VulkanShaderProgram) {
	core.Assert(program != nil, "SetShaderProgram requires a program")
	if rs.program == program {
		return
	}

	var oldSpec *PipelineLayoutSpec
	if rs.layout != nil {
		oldSpec = rs.layout.Spec
	}
	setMask, pushDirty := descriptorSetDiff(oldSpec, program.Layout.Spec)

	rs.program = program
	rs.layout = program.Layout
	rs.pipeline = nil
	rs.dirty |= dirtyPipeline
	rs.dirtySets |= setMask
	if pushDirty {
		rs.dirty |= dirtyPushConstants
	}
}

// SetPushConstants replaces bytes of the push constant block; the dirty
// bit is only raised when the stored bytes actually change.
func (rs *VulkanRenderState) SetPushConstants(offset uint32, data []byte) {
	core.Assertf(int(offset)+len(data) <= VULKAN_MAX_PUSH_CONSTANT_SIZE,
		"push constant write [%d..%d) exceeds %d bytes", offset, int(offset)+len(data), VULKAN_MAX_PUSH_CONSTANT_SIZE)
	target := rs.pushConstants[offset : int(offset)+len(data)]
	if !bytes.Equal(target, data) {
		copy(target, data)
		rs.dirty |= dirtyPushConstants
	}
}

func (rs *VulkanRenderState) bindResource(set, binding uint32, rb ResourceBinding) {
	core.Assertf(set < VULKAN_MAX_DESCRIPTOR_SETS, "descriptor set %d out of range", set)
	core.Assertf(binding < VULKAN_MAX_BINDINGS_PER_SET, "descriptor binding %d out of range", binding)
	stored := &rs.bindings[set][binding]
	if resourceBindingChanged(stored, &rb) {
		rs.dirtySets |= 1 << set
	}
	*stored = rb
}

func (rs *VulkanRenderState) BindUniformBuffer(set, binding uint32, contentID uint64, buffer vk.Buffer, offset, size vk.DeviceSize) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID:    contentID,
		Type:         vk.DescriptorTypeUniformBuffer,
		Buffer:       buffer,
		BufferOffset: offset,
		BufferRange:  size,
	})
}

func (rs *VulkanRenderState) BindStorageBuffer(set, binding uint32, contentID uint64, buffer vk.Buffer, offset, size vk.DeviceSize) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID:    contentID,
		Type:         vk.DescriptorTypeStorageBuffer,
		Buffer:       buffer,
		BufferOffset: offset,
		BufferRange:  size,
	})
}

func (rs *VulkanRenderState) BindSampledImage(set, binding uint32, contentID uint64, view vk.ImageView, sampler vk.Sampler, layout vk.ImageLayout) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID:   contentID,
		Type:        vk.DescriptorTypeCombinedImageSampler,
		ImageView:   view,
		Sampler:     sampler,
		ImageLayout: layout,
	})
}

func (rs *VulkanRenderState) BindStorageImage(set, binding uint32, contentID uint64, view vk.ImageView, layout vk.ImageLayout) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID:   contentID,
		Type:        vk.DescriptorTypeStorageImage,
		ImageView:   view,
		ImageLayout: layout,
	})
}

func (rs *VulkanRenderState) BindTexelBuffer(set, binding uint32, contentID uint64, view vk.BufferView) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID: contentID,
		Type:      vk.DescriptorTypeUniformTexelBuffer,
		TexelView: view,
	})
}

func (rs *VulkanRenderState) BindInputAttachment(set, binding uint32, contentID uint64, view vk.ImageView, layout vk.ImageLayout) {
	rs.bindResource(set, binding, ResourceBinding{
		ContentID:   contentID,
		Type:        vk.DescriptorTypeInputAttachment,
		ImageView:   view,
		ImageLayout: layout,
	})
}
