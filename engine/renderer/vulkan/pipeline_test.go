package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphicsPipelineHashIgnoresUnusedBlendConstants(t *testing.T) {
	_, rs, _, _ := setupDraw(t)

	before := graphicsPipelineHash(rs)
	rs.SetBlendConstants([4]float32{0.25, 0.5, 0.75, 1})
	assert.Equal(t, before, graphicsPipelineHash(rs), "constants folded while no factor consumes them")

	// Blending on, but with non-constant factors the constants still
	// stay out of the key.
	rs.SetBlendEnable(true)
	rs.SetBlendFactors(vk.BlendFactorSrcAlpha, vk.BlendFactorOneMinusSrcAlpha, vk.BlendFactorOne, vk.BlendFactorZero)
	withBlend := graphicsPipelineHash(rs)
	rs.SetBlendConstants([4]float32{1, 1, 1, 1})
	assert.Equal(t, withBlend, graphicsPipelineHash(rs))

	rs.SetBlendFactors(vk.BlendFactorConstantColor, vk.BlendFactorOneMinusConstantColor, vk.BlendFactorOne, vk.BlendFactorZero)
	withConstants := graphicsPipelineHash(rs)
	rs.SetBlendConstants([4]float32{0, 1, 1, 1})
	assert.NotEqual(t, withConstants, graphicsPipelineHash(rs))
}

func TestGraphicsPipelineHashSensitivity(t *testing.T) {
	_, rs, _, _ := setupDraw(t)
	base := graphicsPipelineHash(rs)

	rs.SetVertexAttribute(0, 0, vk.FormatR32g32Sfloat, 0)
	assert.NotEqual(t, base, graphicsPipelineHash(rs), "attribute format")

	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	assert.Equal(t, base, graphicsPipelineHash(rs))

	rs.BindVertexBuffer(0, 1, nil, 0, 24, vk.VertexInputRateVertex)
	assert.NotEqual(t, base, graphicsPipelineHash(rs), "binding stride")

	rs.BindVertexBuffer(0, 1, nil, 0, 12, vk.VertexInputRateVertex)
	rs.SetTopology(vk.PrimitiveTopologyLineList)
	assert.NotEqual(t, base, graphicsPipelineHash(rs), "topology")
}

func TestFlushPipelinePartitionsByProgram(t *testing.T) {
	frame, rs, _, _ := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())

	other, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)
	rs.SetShaderProgram(other)
	require.NoError(t, rs.FlushRenderState())

	// Identical state hash, but pipelines never cross program
	// boundaries.
	assert.Equal(t, 2, frame.graphicsPipelines)
	assert.Len(t, frame.PipelineCache.Programs, 2)
}

func TestInvalidateProgramDefersDestruction(t *testing.T) {
	frame, rs, _, program := setupDraw(t)
	require.NoError(t, rs.FlushRenderState())
	require.Equal(t, 1, frame.graphicsPipelines)

	frame.Context.SubmissionSerial = 7
	frame.PipelineCache.InvalidateProgram(frame.VulkanFrame, program)

	assert.NotContains(t, frame.PipelineCache.Programs, program.ID)
	assert.Equal(t, 1, frame.Recycler.PendingBatches(), "destruction must wait on the serial")

	// Invalidating again is a no-op.
	frame.PipelineCache.InvalidateProgram(frame.VulkanFrame, program)
	assert.Equal(t, 1, frame.Recycler.PendingBatches())

	frame.OnSerialCompleted(7)
	assert.Zero(t, frame.Recycler.PendingBatches())

	// The next draw rebuilds from scratch.
	rs.dirty |= dirtyPipeline
	require.NoError(t, rs.FlushRenderState())
	assert.Equal(t, 2, frame.graphicsPipelines)
}

func TestComputePipelineHashFollowsLayout(t *testing.T) {
	frame := newTestFrame()

	makeProgram := func(mask uint32) *VulkanShaderProgram {
		stage := &VulkanShaderStage{Stage: vk.ShaderStageComputeBit}
		stage.Reflection.Sets[0].StorageBufferMask = mask
		program, err := NewShaderProgram(frame.VulkanFrame, stage)
		require.NoError(t, err)
		return program
	}

	rs := NewVulkanRenderState(frame.VulkanFrame)
	rs.BeginCompute(&recordingWriter{})

	rs.SetShaderProgram(makeProgram(0b1))
	first := computePipelineHash(rs)
	rs.SetShaderProgram(makeProgram(0b11))
	assert.NotEqual(t, first, computePipelineHash(rs))
}
