package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Resource layout reflected from one stage's bytecode by the
 * shader-compiler collaborator.
 */
type ShaderStageReflection struct {
	AttributeMask    uint32
	RenderTargetMask uint32
	Sets             [VULKAN_MAX_DESCRIPTOR_SETS]DescriptorSetLayoutInfo
	PushConstant     vk.PushConstantRange
}

/**
 * @brief Represents a single shader stage: the native module plus its
 * reflected layout. Path is watched for hot reload when registered
 * with the shader watcher.
 */
type VulkanShaderStage struct {
	Handle     vk.ShaderModule
	Stage      vk.ShaderStageFlagBits
	Path       string
	Reflection ShaderStageReflection
}

func NewShaderStage(context *VulkanContext, path string, code []uint32, stage vk.ShaderStageFlagBits, reflection ShaderStageReflection) (*VulkanShaderStage, error) {
	handle, err := createShaderModule(context, code)
	if err != nil {
		return nil, err
	}
	return &VulkanShaderStage{
		Handle:     handle,
		Stage:      stage,
		Path:       path,
		Reflection: reflection,
	}, nil
}

func createShaderModule(context *VulkanContext, code []uint32) (vk.ShaderModule, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}

	var handle vk.ShaderModule
	if err := lockPool.SafeCall(ShaderManagement, func() error {
		if result := vk.CreateShaderModule(context.Device, &createInfo, context.Allocator, &handle); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateShaderModule failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return handle, nil
}

func (stage *VulkanShaderStage) Destroy(context *VulkanContext) {
	if stage.Handle != nil {
		vk.DestroyShaderModule(context.Device, stage.Handle, context.Allocator)
		stage.Handle = nil
	}
}

/**
 * @brief A linked set of shader stages sharing one pipeline layout.
 * The UUID partitions the pipeline cache: all pipeline objects created
 * for a program are retained until the program is invalidated by a
 * shader reload.
 */
type VulkanShaderProgram struct {
	ID     uuid.UUID
	Stages []*VulkanShaderStage
	Layout *VulkanPipelineLayout
}

func NewShaderProgram(frame *VulkanFrame, stages ...*VulkanShaderStage) (*VulkanShaderProgram, error) {
	core.Assert(len(stages) > 0, "shader program needs at least one stage")

	spec := mergeStageReflections(stages)
	layout, err := frame.RequestPipelineLayout(spec)
	if err != nil {
		return nil, err
	}

	return &VulkanShaderProgram{
		ID:     uuid.New(),
		Stages: stages,
		Layout: layout,
	}, nil
}

// mergeStageReflections folds the per-stage reflections into one layout
// spec. Binding type bits must stay mutually exclusive across stages.
func mergeStageReflections(stages []*VulkanShaderStage) *PipelineLayoutSpec {
	spec := &PipelineLayoutSpec{}
	for _, stage := range stages {
		r := &stage.Reflection
		if stage.Stage == vk.ShaderStageVertexBit {
			spec.AttributeMask |= r.AttributeMask
		}
		if stage.Stage == vk.ShaderStageFragmentBit {
			spec.RenderTargetMask |= r.RenderTargetMask
		}
		for set := 0; set < VULKAN_MAX_DESCRIPTOR_SETS; set++ {
			src := &r.Sets[set]
			dst := &spec.Sets[set]
			dst.SampledImageMask |= src.SampledImageMask
			dst.StorageImageMask |= src.StorageImageMask
			dst.UniformBufferMask |= src.UniformBufferMask
			dst.StorageBufferMask |= src.StorageBufferMask
			dst.SampledBufferMask |= src.SampledBufferMask
			dst.InputAttachmentMask |= src.InputAttachmentMask
			if !src.Empty() {
				dst.StageFlags |= vk.ShaderStageFlags(stage.Stage)
			}
		}
		if r.PushConstant.Size > 0 {
			mergePushConstantRange(spec, r.PushConstant, stage.Stage)
		}
	}

	for set := range spec.Sets {
		validateBindingExclusivity(set, &spec.Sets[set])
	}
	spec.bake()
	return spec
}

func mergePushConstantRange(spec *PipelineLayoutSpec, r vk.PushConstantRange, stage vk.ShaderStageFlagBits) {
	for i := range spec.PushConstantRanges {
		existing := &spec.PushConstantRanges[i]
		if existing.Offset == r.Offset && existing.Size == r.Size {
			existing.StageFlags |= vk.ShaderStageFlags(stage)
			return
		}
	}
	r.StageFlags = vk.ShaderStageFlags(stage)
	spec.PushConstantRanges = append(spec.PushConstantRanges, r)
}

func validateBindingExclusivity(set int, info *DescriptorSetLayoutInfo) {
	masks := [...]uint32{
		info.SampledImageMask, info.StorageImageMask, info.UniformBufferMask,
		info.StorageBufferMask, info.SampledBufferMask, info.InputAttachmentMask,
	}
	var seen uint32
	for _, m := range masks {
		core.Assertf(seen&m == 0, "descriptor set %d has conflicting binding types (mask 0x%x)", set, seen&m)
		seen |= m
	}
}

// StageCreateInfos assembles the create-info array for pipeline
// creation.
func (p *VulkanShaderProgram) StageCreateInfos() []vk.PipelineShaderStageCreateInfo {
	infos := make([]vk.PipelineShaderStageCreateInfo, len(p.Stages))
	for i, stage := range p.Stages {
		infos[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage.Stage,
			Module: stage.Handle,
			PName:  VulkanSafeString("main"),
		}
	}
	return infos
}

// ReloadStage swaps in newly compiled bytecode for one stage and
// invalidates every pipeline cached for this program. The old module
// and pipelines are queued on the recycler because in-flight command
// buffers may still reference them. The new bytecode must reflect to
// the same layout; a layout change requires a new program.
func (p *VulkanShaderProgram) ReloadStage(frame *VulkanFrame, stageIndex int, code []uint32) error {
	core.Assertf(stageIndex >= 0 && stageIndex < len(p.Stages), "stage index %d out of range", stageIndex)
	stage := p.Stages[stageIndex]

	handle, err := createShaderModule(frame.Context, code)
	if err != nil {
		return err
	}

	old := stage.Handle
	stage.Handle = handle
	frame.Recycler.Defer(frame.Context.SubmissionSerial, func() {
		vk.DestroyShaderModule(frame.Context.Device, old, frame.Context.Allocator)
	})

	frame.PipelineCache.InvalidateProgram(frame, p)
	core.LogInfo("shader stage %d of program %s reloaded", stageIndex, p.ID)
	return nil
}
