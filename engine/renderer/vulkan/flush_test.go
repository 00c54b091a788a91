package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupDraw binds everything a first graphics draw needs.
func setupDraw(t *testing.T) (*testFrame, *VulkanRenderState, *recordingWriter, *VulkanShaderProgram) {
	t.Helper()
	frame := newTestFrame()

	pass, err := frame.RenderPasses.ObtainRenderPass(testRenderPassDesc(), true)
	require.NoError(t, err)

	program, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)

	writer := &recordingWriter{}
	rs := NewVulkanRenderState(frame.VulkanFrame)
	rs.BeginGraphics(writer)
	rs.BeginRenderPass(pass, 0)
	rs.SetShaderProgram(program)
	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	rs.BindVertexBuffer(0, 1, nil, 0, 12, vk.VertexInputRateVertex)
	rs.BindUniformBuffer(0, 0, 100, nil, 0, 256)
	rs.BindSampledImage(0, 1, 101, nil, nil, vk.ImageLayoutShaderReadOnlyOptimal)
	rs.SetPushConstants(0, make([]byte, 16))
	return frame, rs, writer, program
}

func TestFlushFirstDrawEmitsEverything(t *testing.T) {
	frame, rs, writer, _ := setupDraw(t)

	require.NoError(t, rs.FlushRenderState())

	assert.Equal(t, 1, frame.graphicsPipelines)
	assert.Equal(t, 1, writer.count("BindPipeline"))
	assert.Equal(t, 1, writer.count("BindDescriptorSet"))
	assert.Equal(t, 1, writer.count("PushConstants"))
	assert.Equal(t, 1, writer.count("SetViewport"))
	assert.Equal(t, 1, writer.count("SetScissor"))
	assert.Equal(t, 1, writer.count("BindVertexBuffer"))

	// Features the static state does not use are not emitted.
	assert.Zero(t, writer.count("SetDepthBias"))
	assert.Zero(t, writer.count("SetStencilCompareMask"))
	assert.Zero(t, writer.count("SetBlendConstants"))
}

func TestFlushSecondDrawEmitsNothing(t *testing.T) {
	_, rs, writer, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())

	writer.reset()
	require.NoError(t, rs.FlushRenderState())
	assert.Empty(t, writer.names())
}

func TestFlushVertexBufferSwapReusesPipeline(t *testing.T) {
	// Two sequential draws with identical state but different vertex
	// buffer identities of equal stride/rate share one pipeline object.
	frame, rs, writer, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())
	first := rs.pipeline

	writer.reset()
	rebuild := rs.BindVertexBuffer(0, 2, nil, 64, 12, vk.VertexInputRateVertex)
	assert.False(t, rebuild)
	require.NoError(t, rs.FlushRenderState())

	assert.Same(t, first, rs.pipeline)
	assert.Equal(t, 1, frame.graphicsPipelines)
	assert.Equal(t, []string{"BindVertexBuffer"}, writer.names())
}

func TestFlushPipelineChangeRedirtiesDynamicState(t *testing.T) {
	frame, rs, writer, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())

	writer.reset()
	rs.SetCullMode(vk.CullModeBackBit)
	require.NoError(t, rs.FlushRenderState())

	assert.Equal(t, 2, frame.graphicsPipelines)
	assert.Equal(t, 1, writer.count("BindPipeline"))
	// The new pipeline invalidates dynamic state and vertex bindings.
	assert.Equal(t, 1, writer.count("SetViewport"))
	assert.Equal(t, 1, writer.count("SetScissor"))
	assert.Equal(t, 1, writer.count("BindVertexBuffer"))
}

func TestFlushStaticRoundTripReusesPipeline(t *testing.T) {
	frame, rs, _, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())
	first := rs.pipeline

	rs.SetCullMode(vk.CullModeBackBit)
	require.NoError(t, rs.FlushRenderState())
	require.Equal(t, 2, frame.graphicsPipelines)

	// Back to the original static state: the first object is found in
	// the cache, nothing new is created.
	rs.SetCullMode(vk.CullModeNone)
	require.NoError(t, rs.FlushRenderState())
	assert.Same(t, first, rs.pipeline)
	assert.Equal(t, 2, frame.graphicsPipelines)
}

func TestFlushDescriptorContentChange(t *testing.T) {
	_, rs, writer, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())

	writer.reset()
	rs.BindUniformBuffer(0, 0, 200, nil, 0, 256)
	require.NoError(t, rs.FlushRenderState())
	assert.Equal(t, []string{"BindDescriptorSet"}, writer.names())
}

func TestFlushDirtySetResidueSurvives(t *testing.T) {
	frame, rs, writer, _ := setupDraw(t)

	// Set 1 is not referenced by the current layout; its dirtiness must
	// survive the flush.
	rs.BindStorageBuffer(1, 0, 300, nil, 0, 128)
	require.NoError(t, rs.FlushRenderState())
	assert.Equal(t, 1, writer.count("BindDescriptorSet"))
	assert.NotZero(t, rs.dirtySets&0b10, "residual set dirtiness was lost")

	// A later program that does reference set 1 picks the residue up.
	vertex := &VulkanShaderStage{
		Stage: vk.ShaderStageVertexBit,
		Reflection: ShaderStageReflection{
			AttributeMask: 0b1,
			PushConstant:  vk.PushConstantRange{Offset: 0, Size: 16},
		},
	}
	vertex.Reflection.Sets[0].UniformBufferMask = 0b1
	fragment := &VulkanShaderStage{
		Stage:      vk.ShaderStageFragmentBit,
		Reflection: ShaderStageReflection{RenderTargetMask: 0b1},
	}
	fragment.Reflection.Sets[0].SampledImageMask = 0b10
	fragment.Reflection.Sets[1].StorageBufferMask = 0b1

	wider, err := NewShaderProgram(frame.VulkanFrame, vertex, fragment)
	require.NoError(t, err)

	writer.reset()
	rs.SetShaderProgram(wider)
	require.NoError(t, rs.FlushRenderState())

	sets := []uint32{}
	for _, c := range writer.commands {
		if c.name == "BindDescriptorSet" {
			sets = append(sets, c.args[0].(uint32))
		}
	}
	assert.Contains(t, sets, uint32(1))
	assert.Zero(t, rs.dirtySets&0b10)
}

func TestFlushComputeSkipsGraphicsState(t *testing.T) {
	frame := newTestFrame()

	compute := &VulkanShaderStage{
		Stage: vk.ShaderStageComputeBit,
		Reflection: ShaderStageReflection{
			PushConstant: vk.PushConstantRange{Offset: 0, Size: 8},
		},
	}
	compute.Reflection.Sets[0].StorageBufferMask = 0b1
	program, err := NewShaderProgram(frame.VulkanFrame, compute)
	require.NoError(t, err)

	writer := &recordingWriter{}
	rs := NewVulkanRenderState(frame.VulkanFrame)
	rs.BeginCompute(writer)
	rs.SetShaderProgram(program)
	rs.BindStorageBuffer(0, 0, 1, nil, 0, 4096)
	rs.SetPushConstants(0, make([]byte, 8))

	require.NoError(t, rs.FlushRenderState())

	assert.Equal(t, 1, frame.computePipelines)
	assert.Zero(t, frame.graphicsPipelines)
	assert.Equal(t, 1, writer.count("BindPipeline"))
	assert.Equal(t, 1, writer.count("BindDescriptorSet"))
	assert.Equal(t, 1, writer.count("PushConstants"))
	assert.Zero(t, writer.count("SetViewport"))
	assert.Zero(t, writer.count("SetScissor"))
	assert.Zero(t, writer.count("BindVertexBuffer"))
}

func TestFlushPreconditions(t *testing.T) {
	frame := newTestFrame()
	writer := &recordingWriter{}

	rs := NewVulkanRenderState(frame.VulkanFrame)
	assert.Panics(t, func() { rs.FlushRenderState() }, "flush before begin")

	rs.BeginGraphics(writer)
	assert.Panics(t, func() { rs.FlushRenderState() }, "flush with no program")
}

func TestFlushMissingVertexBufferPanics(t *testing.T) {
	frame := newTestFrame()

	pass, err := frame.RenderPasses.ObtainRenderPass(testRenderPassDesc(), true)
	require.NoError(t, err)
	program, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)

	rs := NewVulkanRenderState(frame.VulkanFrame)
	rs.BeginGraphics(&recordingWriter{})
	rs.BeginRenderPass(pass, 0)
	rs.SetShaderProgram(program)
	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	rs.BindUniformBuffer(0, 0, 1, nil, 0, 64)
	rs.BindSampledImage(0, 1, 2, nil, nil, vk.ImageLayoutShaderReadOnlyOptimal)

	assert.Panics(t, func() { rs.FlushRenderState() })
}

func TestFlushDepthBiasGatedOnEnable(t *testing.T) {
	_, rs, writer, _ := setupDraw(t)
	rs.SetDepthBias(1.25, 1.75)
	require.NoError(t, rs.FlushRenderState())
	assert.Zero(t, writer.count("SetDepthBias"))

	writer.reset()
	rs.SetDepthBiasEnable(true)
	rs.SetDepthBias(2.5, 0.5)
	require.NoError(t, rs.FlushRenderState())
	assert.Equal(t, 1, writer.count("SetDepthBias"))
}

func TestFlushStencilMasksGatedOnStencilTest(t *testing.T) {
	_, rs, writer, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())

	writer.reset()
	rs.SetStencilMasks(0xff, 0xff, 1)
	require.NoError(t, rs.FlushRenderState())
	assert.Zero(t, writer.count("SetStencilCompareMask"))

	writer.reset()
	rs.SetStencilTest(true)
	rs.SetStencilMasks(0x0f, 0xff, 1)
	require.NoError(t, rs.FlushRenderState())
	// Front and back faces each get their three mask commands.
	assert.Equal(t, 2, writer.count("SetStencilCompareMask"))
	assert.Equal(t, 2, writer.count("SetStencilWriteMask"))
	assert.Equal(t, 2, writer.count("SetStencilReference"))
}

func TestFlushBlendConstantsGatedOnFactors(t *testing.T) {
	_, rs, writer, _ := setupDraw(t)
	rs.SetBlendConstants([4]float32{0.5, 0.5, 0.5, 1})
	require.NoError(t, rs.FlushRenderState())
	assert.Zero(t, writer.count("SetBlendConstants"))

	writer.reset()
	rs.SetBlendEnable(true)
	rs.SetBlendFactors(vk.BlendFactorConstantColor, vk.BlendFactorOneMinusConstantColor, vk.BlendFactorOne, vk.BlendFactorZero)
	rs.SetBlendConstants([4]float32{1, 0.5, 0.5, 1})
	require.NoError(t, rs.FlushRenderState())
	assert.Equal(t, 1, writer.count("SetBlendConstants"))
}
