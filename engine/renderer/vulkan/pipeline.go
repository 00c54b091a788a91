package vulkan

import (
	"fmt"
	"math/bits"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Holds a Vulkan pipeline and the hash it was created under.
 * The pipeline layout lives separately in the layout cache.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The state hash this pipeline was built from. */
	Hash uint64
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	if pipeline.Handle != nil {
		vk.DestroyPipeline(context.Device, pipeline.Handle, context.Allocator)
		pipeline.Handle = nil
	}
}

// graphicsPipelineHash builds the lookup key for the current state.
// Fold order: layout hash, active attributes (index, binding, format,
// offset), active binding strides and step rates, render pass identity
// and subpass, the full static state, and finally the blend constants
// but only when an active blend factor consumes them. Excluding unused
// blend constants keeps constant changes from missing the cache for
// pipelines that never read them.
func graphicsPipelineHash(rs *VulkanRenderState) uint64 {
	h := NewHasher()
	h.U64(rs.layout.Spec.Hash())

	attrs := rs.layout.Spec.AttributeMask
	for attrs != 0 {
		attr := uint32(bits.TrailingZeros32(attrs))
		attrs &= attrs - 1
		a := &rs.attributes[attr]
		h.U32(attr)
		h.U32(a.Binding)
		h.I32(int32(a.Format))
		h.U32(a.Offset)
	}

	bindings := attributeBindingMask(rs.layout.Spec, &rs.attributes)
	for bindings != 0 {
		binding := uint32(bits.TrailingZeros32(bindings))
		bindings &= bindings - 1
		b := &rs.vertexBindings[binding]
		h.U32(b.Stride)
		h.I32(int32(b.InputRate))
	}

	h.U64(rs.renderPass.Hash)
	h.U32(rs.subpassIndex)
	rs.static.hashInto(h)

	if rs.static.usesBlendConstants() {
		for _, c := range rs.potential.BlendConstants {
			h.F32(c)
		}
	}
	return h.Value()
}

func computePipelineHash(rs *VulkanRenderState) uint64 {
	h := NewHasher()
	h.U64(rs.layout.Spec.Hash())
	return h.Value()
}

/**
 * @brief Per-program cache of pipeline objects plus the native
 * vkPipelineCache whose opaque blob is persisted across runs through
 * the storage collaborator. Pipelines are never frame-evicted; they
 * live until their program is invalidated by a shader reload.
 *
 * Shared between encoding contexts only under external
 * synchronization; population runs under the pipeline lock group.
 */
type VulkanPipelineCache struct {
	Handle   vk.PipelineCache
	Storage  CacheStorage
	Programs map[uuid.UUID]map[uint64]*VulkanPipeline

	// Creation hooks, replaceable in tests.
	newGraphics func(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error)
	newCompute  func(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error)
}

func NewVulkanPipelineCache(context *VulkanContext, storage CacheStorage) (*VulkanPipelineCache, error) {
	pc := newPipelineCache(storage)

	var initialData []byte
	if storage != nil {
		data, err := storage.Load()
		if err != nil {
			core.LogWarn("pipeline cache blob unavailable, starting cold: %s", err)
		} else {
			initialData = data
		}
	}

	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initialData) > 0 {
		createInfo.InitialDataSize = uint64(len(initialData))
		createInfo.PInitialData = unsafe.Pointer(&initialData[0])
	}

	if err := lockPool.SafeCall(PipelineManagement, func() error {
		var handle vk.PipelineCache
		if result := vk.CreatePipelineCache(context.Device, &createInfo, context.Allocator, &handle); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreatePipelineCache failed with %s", VulkanResultString(result, true))
		}
		pc.Handle = handle
		return nil
	}); err != nil {
		return nil, err
	}
	return pc, nil
}

func newPipelineCache(storage CacheStorage) *VulkanPipelineCache {
	return &VulkanPipelineCache{
		Storage:     storage,
		Programs:    make(map[uuid.UUID]map[uint64]*VulkanPipeline),
		newGraphics: newGraphicsPipeline,
		newCompute:  newComputePipeline,
	}
}

// FlushPipeline hashes the current state and returns the matching
// pipeline object, building it on a miss.
func (pc *VulkanPipelineCache) FlushPipeline(context *VulkanContext, rs *VulkanRenderState) (*VulkanPipeline, error) {
	core.Assert(rs.program != nil, "FlushPipeline with no shader program bound")

	var hash uint64
	if rs.bindPoint == vk.PipelineBindPointCompute {
		hash = computePipelineHash(rs)
	} else {
		hash = graphicsPipelineHash(rs)
	}

	perProgram := pc.Programs[rs.program.ID]
	if perProgram == nil {
		perProgram = make(map[uint64]*VulkanPipeline)
		pc.Programs[rs.program.ID] = perProgram
	}
	if pipeline, ok := perProgram[hash]; ok {
		return pipeline, nil
	}

	var pipeline *VulkanPipeline
	var err error
	if rs.bindPoint == vk.PipelineBindPointCompute {
		pipeline, err = pc.newCompute(context, pc.Handle, rs, hash)
	} else {
		pipeline, err = pc.newGraphics(context, pc.Handle, rs, hash)
	}
	if err != nil {
		return nil, err
	}
	perProgram[hash] = pipeline
	core.LogDebug("pipeline created for program %s (hash %x)", rs.program.ID, hash)
	return pipeline, nil
}

// InvalidateProgram drops every pipeline cached for the program as a
// unit. The objects are not destroyed immediately: prior command
// buffers may still reference them, so they move to the recycler keyed
// by the current submission serial.
func (pc *VulkanPipelineCache) InvalidateProgram(frame *VulkanFrame, program *VulkanShaderProgram) {
	perProgram := pc.Programs[program.ID]
	if perProgram == nil {
		return
	}
	delete(pc.Programs, program.ID)
	for _, pipeline := range perProgram {
		retired := pipeline
		frame.Recycler.Defer(frame.Context.SubmissionSerial, func() {
			retired.Destroy(frame.Context)
		})
	}
	core.LogDebug("invalidated %d pipeline(s) of program %s", len(perProgram), program.ID)
}

// SaveData hands the native cache blob to the storage collaborator. The
// blob is opaque; only the driver interprets it.
func (pc *VulkanPipelineCache) SaveData(context *VulkanContext) error {
	if pc.Storage == nil || pc.Handle == nil {
		return nil
	}

	var size uint64
	if result := vk.GetPipelineCacheData(context.Device, pc.Handle, &size, nil); !VulkanResultIsSuccess(result) {
		return fmt.Errorf("vkGetPipelineCacheData failed with %s", VulkanResultString(result, true))
	}
	if size == 0 {
		return nil
	}
	data := make([]byte, size)
	if result := vk.GetPipelineCacheData(context.Device, pc.Handle, &size, unsafe.Pointer(&data[0])); !VulkanResultIsSuccess(result) {
		return fmt.Errorf("vkGetPipelineCacheData failed with %s", VulkanResultString(result, true))
	}
	return pc.Storage.Store(data[:size])
}

func (pc *VulkanPipelineCache) Destroy(context *VulkanContext) {
	for id, perProgram := range pc.Programs {
		for _, pipeline := range perProgram {
			pipeline.Destroy(context)
		}
		delete(pc.Programs, id)
	}
	if pc.Handle != nil {
		vk.DestroyPipelineCache(context.Device, pc.Handle, context.Allocator)
		pc.Handle = nil
	}
}

// newGraphicsPipeline assembles the full creation description from the
// tracked state and builds the native object.
func newGraphicsPipeline(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error) {
	spec := rs.layout.Spec
	static := &rs.static
	subpass := &rs.renderPass.Subpasses[rs.subpassIndex]

	// Viewport state. Viewport and scissor are dynamic; only the counts
	// matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	viewportState.Deref()

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(static.CullMode),
		FrontFace:               static.FrontFace,
	}
	if static.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	if static.DepthBiasEnable {
		rasterizerCreateInfo.DepthBiasEnable = vk.True
	}
	rasterizerCreateInfo.Deref()

	// Multisampling follows the subpass.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: subpass.SampleCount,
		MinSampleShading:     1.0,
	}
	multisamplingCreateInfo.Deref()

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if static.DepthTestEnable {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = static.DepthCompareOp
	}
	if static.DepthWriteEnable {
		depthStencil.DepthWriteEnable = vk.True
	}
	if static.StencilTestEnable {
		depthStencil.StencilTestEnable = vk.True
		depthStencil.Front = vk.StencilOpState{
			FailOp:      static.StencilFront.FailOp,
			PassOp:      static.StencilFront.PassOp,
			DepthFailOp: static.StencilFront.DepthFailOp,
			CompareOp:   static.StencilFront.CompareOp,
		}
		depthStencil.Back = vk.StencilOpState{
			FailOp:      static.StencilBack.FailOp,
			PassOp:      static.StencilBack.PassOp,
			DepthFailOp: static.StencilBack.DepthFailOp,
			CompareOp:   static.StencilBack.CompareOp,
		}
	}
	depthStencil.Deref()

	// One blend attachment per color attachment of the subpass.
	attachmentCount := len(subpass.ColorAttachments)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, attachmentCount)
	for i := range blendAttachments {
		state := vk.PipelineColorBlendAttachmentState{
			ColorWriteMask: static.ColorWriteMask,
		}
		if static.BlendEnable {
			state.BlendEnable = vk.True
			state.SrcColorBlendFactor = static.SrcColorBlend
			state.DstColorBlendFactor = static.DstColorBlend
			state.ColorBlendOp = static.ColorBlendOp
			state.SrcAlphaBlendFactor = static.SrcAlphaBlend
			state.DstAlphaBlendFactor = static.DstAlphaBlend
			state.AlphaBlendOp = static.AlphaBlendOp
		}
		state.Deref()
		blendAttachments[i] = state
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(attachmentCount),
		PAttachments:    blendAttachments,
	}
	colorBlendStateCreateInfo.Deref()

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateDepthBias,
		vk.DynamicStateBlendConstants,
		vk.DynamicStateStencilCompareMask,
		vk.DynamicStateStencilWriteMask,
		vk.DynamicStateStencilReference,
	}

	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	dynamicStateCreateInfo.Deref()

	// Vertex input from the layout's active attributes.
	var attributeDescriptions []vk.VertexInputAttributeDescription
	attrs := spec.AttributeMask
	for attrs != 0 {
		attr := uint32(bits.TrailingZeros32(attrs))
		attrs &= attrs - 1
		a := &rs.attributes[attr]
		attributeDescriptions = append(attributeDescriptions, vk.VertexInputAttributeDescription{
			Location: attr,
			Binding:  a.Binding,
			Format:   a.Format,
			Offset:   a.Offset,
		})
	}

	var bindingDescriptions []vk.VertexInputBindingDescription
	activeBindings := attributeBindingMask(spec, &rs.attributes)
	for activeBindings != 0 {
		binding := uint32(bits.TrailingZeros32(activeBindings))
		activeBindings &= activeBindings - 1
		b := &rs.vertexBindings[binding]
		bindingDescriptions = append(bindingDescriptions, vk.VertexInputBindingDescription{
			Binding:   binding,
			Stride:    b.Stride,
			InputRate: b.InputRate,
		})
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindingDescriptions)),
		PVertexBindingDescriptions:      bindingDescriptions,
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}
	vertexInputInfo.Deref()

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               static.Topology,
		PrimitiveRestartEnable: vk.False,
	}
	inputAssembly.Deref()

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(rs.program.Stages)),
		PStages:             rs.program.StageCreateInfos(),
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              rs.layout.Handle,
		RenderPass:          rs.renderPass.Handle,
		Subpass:             rs.subpassIndex,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelineCreateInfo.Deref()

	outPipeline := &VulkanPipeline{Hash: hash}
	pPipelines := make([]vk.Pipeline, 1)

	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device,
			cache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	outPipeline.Handle = pPipelines[0]
	core.LogDebug("Graphics pipeline created!")
	return outPipeline, nil
}

func newComputePipeline(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error) {
	core.Assert(len(rs.program.Stages) == 1, "compute program must have exactly one stage")

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              rs.program.StageCreateInfos()[0],
		Layout:             rs.layout.Handle,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	createInfo.Deref()

	outPipeline := &VulkanPipeline{Hash: hash}
	pPipelines := make([]vk.Pipeline, 1)

	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(
			context.Device,
			cache,
			1,
			[]vk.ComputePipelineCreateInfo{createInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateComputePipelines failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	outPipeline.Handle = pPipelines[0]
	core.LogDebug("Compute pipeline created!")
	return outPipeline, nil
}
