package vulkan

import (
	vk "github.com/goki/vulkan"
)

// testFrame builds a frame whose native creation paths are replaced by
// recording stubs, so the caching logic runs without a device.
type testFrame struct {
	*VulkanFrame
	graphicsPipelines int
	computePipelines  int
	renderPasses      int
	framebuffers      int
}

func newTestFrame() *testFrame {
	frame := newFrame(&VulkanContext{}, nil)
	tf := &testFrame{VulkanFrame: frame}

	frame.newAllocator = func(key DescriptorSetLayoutKey) (*VulkanDescriptorSetAllocator, error) {
		allocator := newDescriptorSetAllocator(frame.Context, key, nil, frame.Config.DescriptorFramesUntilEviction)
		allocator.policy.createPool = func(count uint32) (vk.DescriptorPool, []vk.DescriptorSet, error) {
			return nil, make([]vk.DescriptorSet, count), nil
		}
		allocator.update = func(writes []vk.WriteDescriptorSet) {}
		return allocator, nil
	}
	frame.newLayout = func(spec *PipelineLayoutSpec) (*VulkanPipelineLayout, error) {
		layout := &VulkanPipelineLayout{Spec: spec}
		for i := 0; i < VULKAN_MAX_DESCRIPTOR_SETS; i++ {
			if spec.DescriptorSetMask&(1<<uint32(i)) == 0 {
				continue
			}
			allocator, err := frame.RequestDescriptorAllocator(DescriptorSetLayoutKey{Info: spec.Sets[i]})
			if err != nil {
				return nil, err
			}
			layout.Allocators[i] = allocator
		}
		return layout, nil
	}
	frame.PipelineCache.newGraphics = func(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error) {
		tf.graphicsPipelines++
		return &VulkanPipeline{Hash: hash}, nil
	}
	frame.PipelineCache.newCompute = func(context *VulkanContext, cache vk.PipelineCache, rs *VulkanRenderState, hash uint64) (*VulkanPipeline, error) {
		tf.computePipelines++
		return &VulkanPipeline{Hash: hash}, nil
	}
	frame.RenderPasses.create = func(context *VulkanContext, desc *RenderPassDescription, hash uint64) (*VulkanRenderPass, error) {
		comp, err := compileRenderPass(desc)
		if err != nil {
			return nil, err
		}
		tf.renderPasses++
		return &VulkanRenderPass{Hash: hash, Subpasses: comp.metadata}, nil
	}
	frame.Framebuffers.create = func(context *VulkanContext, pass *VulkanRenderPass, attachments []vk.ImageView, width, height uint32) (vk.Framebuffer, error) {
		tf.framebuffers++
		return nil, nil
	}
	return tf
}

// recordedCommand captures one CommandWriter call.
type recordedCommand struct {
	name string
	args []interface{}
}

// recordingWriter satisfies CommandWriter and remembers every call.
type recordingWriter struct {
	commands []recordedCommand
}

func (w *recordingWriter) record(name string, args ...interface{}) {
	w.commands = append(w.commands, recordedCommand{name: name, args: args})
}

func (w *recordingWriter) reset() {
	w.commands = w.commands[:0]
}

func (w *recordingWriter) count(name string) int {
	n := 0
	for _, c := range w.commands {
		if c.name == name {
			n++
		}
	}
	return n
}

func (w *recordingWriter) names() []string {
	out := make([]string, len(w.commands))
	for i, c := range w.commands {
		out[i] = c.name
	}
	return out
}

func (w *recordingWriter) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline *VulkanPipeline) {
	w.record("BindPipeline", bindPoint, pipeline)
}

func (w *recordingWriter) BindDescriptorSet(bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, set uint32, handle vk.DescriptorSet) {
	w.record("BindDescriptorSet", set)
}

func (w *recordingWriter) BindVertexBuffer(binding uint32, buffer vk.Buffer, offset vk.DeviceSize) {
	w.record("BindVertexBuffer", binding, offset)
}

func (w *recordingWriter) PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32, data []byte) {
	w.record("PushConstants", offset, size)
}

func (w *recordingWriter) SetViewport(viewport vk.Viewport) {
	w.record("SetViewport", viewport)
}

func (w *recordingWriter) SetScissor(scissor vk.Rect2D) {
	w.record("SetScissor", scissor)
}

func (w *recordingWriter) SetDepthBias(constant, clamp, slope float32) {
	w.record("SetDepthBias", constant, clamp, slope)
}

func (w *recordingWriter) SetStencilCompareMask(faces vk.StencilFaceFlags, mask uint32) {
	w.record("SetStencilCompareMask", faces, mask)
}

func (w *recordingWriter) SetStencilWriteMask(faces vk.StencilFaceFlags, mask uint32) {
	w.record("SetStencilWriteMask", faces, mask)
}

func (w *recordingWriter) SetStencilReference(faces vk.StencilFaceFlags, reference uint32) {
	w.record("SetStencilReference", faces, reference)
}

func (w *recordingWriter) SetBlendConstants(constants [4]float32) {
	w.record("SetBlendConstants", constants)
}

// testGraphicsProgram builds a vertex+fragment program with one vertex
// attribute, a uniform buffer at set 0 binding 0, a sampled image at
// set 0 binding 1 and a 16 byte push constant block.
func testGraphicsProgram(frame *VulkanFrame) (*VulkanShaderProgram, error) {
	vertex := &VulkanShaderStage{
		Stage: vk.ShaderStageVertexBit,
		Reflection: ShaderStageReflection{
			AttributeMask: 0b1,
			PushConstant:  vk.PushConstantRange{Offset: 0, Size: 16},
		},
	}
	vertex.Reflection.Sets[0].UniformBufferMask = 0b1

	fragment := &VulkanShaderStage{
		Stage: vk.ShaderStageFragmentBit,
		Reflection: ShaderStageReflection{
			RenderTargetMask: 0b1,
		},
	}
	fragment.Reflection.Sets[0].SampledImageMask = 0b10

	return NewShaderProgram(frame, vertex, fragment)
}

// testRenderPassDesc is a one-subpass color+depth pass.
func testRenderPassDesc() *RenderPassDescription {
	return &RenderPassDescription{
		ColorAttachments: []AttachmentInfo{
			{Format: vk.FormatB8g8r8a8Unorm, Samples: vk.SampleCount1Bit, IsSwapchain: true},
		},
		DepthStencil:      &AttachmentInfo{Format: vk.FormatD32Sfloat, Samples: vk.SampleCount1Bit, IsTransient: true},
		ClearAttachments:  0b1,
		StoreAttachments:  0b1,
		ClearDepthStencil: true,
	}
}
