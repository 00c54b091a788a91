package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramebufferObtainKeysOnContentIdentity(t *testing.T) {
	frame := newTestFrame()
	pass, err := frame.RenderPasses.ObtainRenderPass(testRenderPassDesc(), true)
	require.NoError(t, err)

	views := make([]vk.ImageView, 2)
	first, err := frame.Framebuffers.Obtain(pass, []uint64{1, 2}, views, 1280, 720)
	require.NoError(t, err)
	require.Equal(t, 1, frame.framebuffers)

	// Same identities hit regardless of the view slice handed in.
	second, err := frame.Framebuffers.Obtain(pass, []uint64{1, 2}, make([]vk.ImageView, 2), 1280, 720)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, frame.framebuffers)

	// A different identity, extent or pass misses.
	_, err = frame.Framebuffers.Obtain(pass, []uint64{1, 3}, views, 1280, 720)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.framebuffers)

	_, err = frame.Framebuffers.Obtain(pass, []uint64{1, 2}, views, 640, 360)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.framebuffers)
	assert.Equal(t, 3, frame.Framebuffers.Len())
}

func TestFramebufferObtainMismatchedIdentitiesPanics(t *testing.T) {
	frame := newTestFrame()
	pass, err := frame.RenderPasses.ObtainRenderPass(testRenderPassDesc(), true)
	require.NoError(t, err)

	assert.Panics(t, func() {
		frame.Framebuffers.Obtain(pass, []uint64{1}, make([]vk.ImageView, 2), 1280, 720)
	})
}

func TestFramebufferUseResetsEvictionClock(t *testing.T) {
	frame := newTestFrame()
	pass, err := frame.RenderPasses.ObtainRenderPass(testRenderPassDesc(), true)
	require.NoError(t, err)

	views := make([]vk.ImageView, 2)
	_, err = frame.Framebuffers.Obtain(pass, []uint64{1, 2}, views, 1280, 720)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		frame.Framebuffers.BeginFrame()
		_, err = frame.Framebuffers.Obtain(pass, []uint64{1, 2}, views, 1280, 720)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, frame.framebuffers, "a framebuffer in use every frame is never evicted")
}
