package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) (*testFrame, *VulkanRenderState, *recordingWriter) {
	t.Helper()
	frame := newTestFrame()
	rs := NewVulkanRenderState(frame.VulkanFrame)
	writer := &recordingWriter{}
	rs.BeginGraphics(writer)
	return frame, rs, writer
}

func TestBeginGraphicsResetsEverything(t *testing.T) {
	_, rs, _ := newTestState(t)

	assert.Equal(t, dirtyAll, rs.dirty)
	assert.Equal(t, uint32(allSetsMask), rs.dirtySets)
	assert.Equal(t, uint32(allVertexBindingsMask), rs.dirtyVertexBuffers)
	assert.Nil(t, rs.program)
	assert.Nil(t, rs.pipeline)
}

func TestStaticSettersDirtyMinimality(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.SetDepthTest(true, true)
	rs.dirty = 0

	// Same value: no dirty bit.
	rs.SetDepthTest(true, true)
	assert.Zero(t, rs.dirty)

	// Different value: dirty.
	rs.SetDepthTest(true, false)
	assert.Equal(t, dirtyStaticState, rs.dirty)

	rs.dirty = 0
	rs.SetCullMode(vk.CullModeBackBit)
	assert.Equal(t, dirtyStaticState, rs.dirty)
	rs.dirty = 0
	rs.SetCullMode(vk.CullModeBackBit)
	assert.Zero(t, rs.dirty)

	rs.dirty = 0
	rs.SetBlendFactors(vk.BlendFactorSrcAlpha, vk.BlendFactorOneMinusSrcAlpha, vk.BlendFactorOne, vk.BlendFactorZero)
	assert.Equal(t, dirtyStaticState, rs.dirty)
	rs.dirty = 0
	rs.SetBlendFactors(vk.BlendFactorSrcAlpha, vk.BlendFactorOneMinusSrcAlpha, vk.BlendFactorOne, vk.BlendFactorZero)
	assert.Zero(t, rs.dirty)
}

func TestBlendConstantsOnlyDirtyDynamicState(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.dirty = 0

	rs.SetBlendConstants([4]float32{1, 0, 0, 1})
	assert.Equal(t, dirtyBlendConstants, rs.dirty)

	rs.dirty = 0
	rs.SetBlendConstants([4]float32{1, 0, 0, 1})
	assert.Zero(t, rs.dirty)
}

func TestStencilMaskSetters(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.dirty = 0

	rs.SetStencilMasks(0xff, 0xff, 1)
	assert.Equal(t, dirtyStencilMasks, rs.dirty)

	rs.dirty = 0
	rs.SetStencilMasks(0xff, 0xff, 1)
	assert.Zero(t, rs.dirty)

	rs.SetStencilFrontMasks(0x0f, 0xff, 1)
	assert.Equal(t, dirtyStencilMasks, rs.dirty)
	assert.Equal(t, uint32(0x0f), rs.stencilCompare[0])
	assert.Equal(t, uint32(0xff), rs.stencilCompare[1])
}

func TestBindVertexBufferRebuildSemantics(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.dirty = 0
	rs.dirtyVertexBuffers = 0

	// First bind establishes the stride: rebuild.
	rebuild := rs.BindVertexBuffer(0, 1, nil, 0, 12, vk.VertexInputRateVertex)
	assert.True(t, rebuild)
	assert.Equal(t, dirtyPipeline, rs.dirty)
	assert.Equal(t, uint32(0b1), rs.dirtyVertexBuffers)

	rs.dirty = 0
	rs.dirtyVertexBuffers = 0

	// Same stride/rate, different buffer identity: rebind only.
	rebuild = rs.BindVertexBuffer(0, 2, nil, 0, 12, vk.VertexInputRateVertex)
	assert.False(t, rebuild)
	assert.Zero(t, rs.dirty)
	assert.Equal(t, uint32(0b1), rs.dirtyVertexBuffers)

	rs.dirtyVertexBuffers = 0

	// Same everything: nothing.
	rebuild = rs.BindVertexBuffer(0, 2, nil, 0, 12, vk.VertexInputRateVertex)
	assert.False(t, rebuild)
	assert.Zero(t, rs.dirtyVertexBuffers)

	// Changed stride: rebuild.
	rebuild = rs.BindVertexBuffer(0, 2, nil, 0, 16, vk.VertexInputRateVertex)
	assert.True(t, rebuild)
	assert.Equal(t, dirtyPipeline, rs.dirty)

	// Changed step rate: rebuild.
	rs.dirty = 0
	rebuild = rs.BindVertexBuffer(0, 2, nil, 0, 16, vk.VertexInputRateInstance)
	assert.True(t, rebuild)
	assert.Equal(t, dirtyPipeline, rs.dirty)
}

func TestSetVertexAttributeDirtyOnChangeOnly(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	rs.dirty = 0

	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	assert.Zero(t, rs.dirty)

	rs.SetVertexAttribute(0, 0, vk.FormatR32g32b32Sfloat, 12)
	assert.Equal(t, dirtyPipeline, rs.dirty)
}

func TestSetShaderProgramNoopWhenSame(t *testing.T) {
	frame, rs, _ := newTestState(t)
	program, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)

	rs.SetShaderProgram(program)
	rs.dirty = 0
	rs.dirtySets = 0

	rs.SetShaderProgram(program)
	assert.Zero(t, rs.dirty)
	assert.Zero(t, rs.dirtySets)
}

func TestSetShaderProgramDiffsLayouts(t *testing.T) {
	frame, rs, _ := newTestState(t)

	a, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)

	// Same reflected layout, different program identity.
	b, err := testGraphicsProgram(frame.VulkanFrame)
	require.NoError(t, err)
	require.Same(t, a.Layout, b.Layout)

	rs.SetShaderProgram(a)
	rs.dirty = 0
	rs.dirtySets = 0

	rs.SetShaderProgram(b)
	assert.Equal(t, dirtyPipeline, rs.dirty)
	assert.Zero(t, rs.dirtySets, "equal layout specs must not invalidate descriptor sets")
}

func TestSetPushConstantsCompareAndSet(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.dirty = 0

	rs.SetPushConstants(0, []byte{1, 2, 3, 4})
	assert.Equal(t, dirtyPushConstants, rs.dirty)

	rs.dirty = 0
	rs.SetPushConstants(0, []byte{1, 2, 3, 4})
	assert.Zero(t, rs.dirty)

	rs.SetPushConstants(2, []byte{9})
	assert.Equal(t, dirtyPushConstants, rs.dirty)
}

func TestBindResourceContentIdentity(t *testing.T) {
	_, rs, _ := newTestState(t)
	rs.dirtySets = 0

	rs.BindUniformBuffer(0, 0, 10, nil, 0, 256)
	assert.Equal(t, uint32(0b1), rs.dirtySets)

	rs.dirtySets = 0
	// Same content identity and range: no dirtiness even though the
	// native handle may have been recreated.
	rs.BindUniformBuffer(0, 0, 10, nil, 0, 256)
	assert.Zero(t, rs.dirtySets)

	// Changed range: dirty.
	rs.BindUniformBuffer(0, 0, 10, nil, 0, 512)
	assert.Equal(t, uint32(0b1), rs.dirtySets)

	rs.dirtySets = 0
	// Changed content identity: dirty.
	rs.BindUniformBuffer(0, 0, 11, nil, 0, 512)
	assert.Equal(t, uint32(0b1), rs.dirtySets)

	rs.dirtySets = 0
	rs.BindSampledImage(1, 3, 42, nil, nil, vk.ImageLayoutShaderReadOnlyOptimal)
	assert.Equal(t, uint32(0b10), rs.dirtySets)
}

func TestBindResourceOutOfRangePanics(t *testing.T) {
	_, rs, _ := newTestState(t)
	assert.Panics(t, func() {
		rs.BindUniformBuffer(VULKAN_MAX_DESCRIPTOR_SETS, 0, 1, nil, 0, 16)
	})
	assert.Panics(t, func() {
		rs.BindUniformBuffer(0, VULKAN_MAX_BINDINGS_PER_SET, 1, nil, 0, 16)
	})
}
