package vulkan

import (
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Owns every cache of the core and threads frame boundaries
 * through them. One frame object exists per device; encoding contexts
 * (VulkanRenderState) reference it. Explicitly owned state instead of
 * package globals, so tests and multi-device setups stay sane.
 */
type VulkanFrame struct {
	Context *VulkanContext
	Config  *RendererConfig

	PipelineCache *VulkanPipelineCache
	RenderPasses  *VulkanRenderPassCache
	Framebuffers  *VulkanFramebufferCache
	Recycler      *VulkanRecycler

	descriptorAllocators map[uint64]*VulkanDescriptorSetAllocator
	pipelineLayouts      map[uint64]*VulkanPipelineLayout

	// Creation hooks, replaceable in tests.
	newAllocator func(key DescriptorSetLayoutKey) (*VulkanDescriptorSetAllocator, error)
	newLayout    func(spec *PipelineLayoutSpec) (*VulkanPipelineLayout, error)
}

func NewVulkanFrame(context *VulkanContext, config *RendererConfig) (*VulkanFrame, error) {
	frame := newFrame(context, config)

	var storage CacheStorage
	if frame.Config.PipelineCachePath != "" {
		storage = &FileCacheStorage{Path: frame.Config.PipelineCachePath}
	}
	pipelineCache, err := NewVulkanPipelineCache(context, storage)
	if err != nil {
		return nil, err
	}
	frame.PipelineCache = pipelineCache
	return frame, nil
}

// newFrame wires everything that does not need the device; the native
// pipeline cache is added by NewVulkanFrame.
func newFrame(context *VulkanContext, config *RendererConfig) *VulkanFrame {
	if config == nil {
		config = DefaultRendererConfig()
	}
	frame := &VulkanFrame{
		Context:              context,
		Config:               config,
		PipelineCache:        newPipelineCache(nil),
		RenderPasses:         NewVulkanRenderPassCache(context),
		Framebuffers:         NewVulkanFramebufferCache(context, config.FramebufferFramesUntilEviction),
		Recycler:             NewVulkanRecycler(),
		descriptorAllocators: make(map[uint64]*VulkanDescriptorSetAllocator),
		pipelineLayouts:      make(map[uint64]*VulkanPipelineLayout),
	}
	frame.newAllocator = func(key DescriptorSetLayoutKey) (*VulkanDescriptorSetAllocator, error) {
		return NewVulkanDescriptorSetAllocator(frame.Context, key, frame.Config.DescriptorFramesUntilEviction)
	}
	frame.newLayout = func(spec *PipelineLayoutSpec) (*VulkanPipelineLayout, error) {
		return newPipelineLayout(frame.Context, frame, spec)
	}
	return frame
}

// RequestDescriptorAllocator returns the allocator for the layout key,
// creating it on first request. Allocators are shared by every pipeline
// layout whose set matches the key; they live until Shutdown.
func (frame *VulkanFrame) RequestDescriptorAllocator(key DescriptorSetLayoutKey) (*VulkanDescriptorSetAllocator, error) {
	hash := key.Hash()
	if allocator, ok := frame.descriptorAllocators[hash]; ok {
		return allocator, nil
	}
	allocator, err := frame.newAllocator(key)
	if err != nil {
		return nil, err
	}
	frame.descriptorAllocators[hash] = allocator
	return allocator, nil
}

// RequestPipelineLayout returns the pipeline layout for the spec,
// creating it on first request. Specs hash over every field, so equal
// specs share one native layout.
func (frame *VulkanFrame) RequestPipelineLayout(spec *PipelineLayoutSpec) (*VulkanPipelineLayout, error) {
	hash := spec.Hash()
	if layout, ok := frame.pipelineLayouts[hash]; ok {
		return layout, nil
	}
	layout, err := frame.newLayout(spec)
	if err != nil {
		return nil, err
	}
	frame.pipelineLayouts[hash] = layout
	return layout, nil
}

// BeginFrame advances the frame number and runs the eviction sweep of
// every frame-scoped cache. Call once per frame from the single-threaded
// begin-frame phase.
func (frame *VulkanFrame) BeginFrame() {
	frame.Context.FrameNumber++
	for _, allocator := range frame.descriptorAllocators {
		allocator.BeginFrame()
	}
	frame.Framebuffers.BeginFrame()
}

// OnSerialCompleted forwards a completed submission serial to the
// recycler, destroying retired objects that waited on it.
func (frame *VulkanFrame) OnSerialCompleted(serial uint64) {
	frame.Recycler.OnSerialCompleted(serial)
}

// Shutdown persists the pipeline-cache blob and tears every cache down.
// The device must be idle.
func (frame *VulkanFrame) Shutdown() {
	if err := frame.PipelineCache.SaveData(frame.Context); err != nil {
		core.LogWarn("failed to persist pipeline cache blob: %s", err)
	}
	frame.Recycler.Flush()
	frame.Framebuffers.Clear()
	frame.PipelineCache.Destroy(frame.Context)
	for hash, layout := range frame.pipelineLayouts {
		layout.Destroy(frame.Context)
		delete(frame.pipelineLayouts, hash)
	}
	for hash, allocator := range frame.descriptorAllocators {
		allocator.Destroy()
		delete(frame.descriptorAllocators, hash)
	}
	frame.RenderPasses.Clear()
	core.LogInfo("renderer core shut down")
}
