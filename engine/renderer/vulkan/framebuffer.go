package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
)

type VulkanFramebuffer struct {
	Handle vk.Framebuffer
	Width  uint32
	Height uint32
}

/**
 * @brief Frame-evicted cache of framebuffer objects, keyed by render
 * pass identity, attachment content identities and extent. Content
 * identities rather than native view handles, so recreating an
 * equivalent attachment does not force a miss.
 */
type VulkanFramebufferCache struct {
	context *VulkanContext
	cache   *VulkanHashCache[*VulkanFramebuffer]

	// Creation hook, replaceable in tests.
	create func(context *VulkanContext, pass *VulkanRenderPass, attachments []vk.ImageView, width, height uint32) (vk.Framebuffer, error)
}

func NewVulkanFramebufferCache(context *VulkanContext, framesUntilEviction uint8) *VulkanFramebufferCache {
	c := &VulkanFramebufferCache{
		context: context,
		create:  newFramebuffer,
	}
	c.cache = NewVulkanHashCache[*VulkanFramebuffer](framesUntilEviction, FuncPolicy[*VulkanFramebuffer]{
		AllocateFn: func() (*VulkanFramebuffer, error) {
			return &VulkanFramebuffer{}, nil
		},
		ReleaseFn: func(fb *VulkanFramebuffer) {
			if fb.Handle != nil {
				vk.DestroyFramebuffer(c.context.Device, fb.Handle, c.context.Allocator)
				fb.Handle = nil
			}
		},
	})
	return c
}

// Obtain returns the framebuffer for the pass/attachment/extent
// combination, building it on a miss. attachmentIDs carries one
// content identity per entry of attachments, in the same order.
func (c *VulkanFramebufferCache) Obtain(pass *VulkanRenderPass, attachmentIDs []uint64, attachments []vk.ImageView, width, height uint32) (*VulkanFramebuffer, error) {
	core.Assert(len(attachmentIDs) == len(attachments), "attachment identity count mismatch")

	h := NewHasher()
	h.U64(pass.Hash)
	for _, id := range attachmentIDs {
		h.U64(id)
	}
	h.U32(width)
	h.U32(height)

	fb, populated, err := c.cache.Obtain(h.Value())
	if err != nil {
		return nil, err
	}
	if !populated {
		handle, err := c.create(c.context, pass, attachments, width, height)
		if err != nil {
			return nil, err
		}
		fb.Handle = handle
		fb.Width = width
		fb.Height = height
	}
	return fb, nil
}

func (c *VulkanFramebufferCache) BeginFrame() {
	c.cache.BeginFrame()
}

func (c *VulkanFramebufferCache) Len() int {
	return c.cache.Len()
}

func (c *VulkanFramebufferCache) Clear() {
	c.cache.Clear()
}

func newFramebuffer(context *VulkanContext, pass *VulkanRenderPass, attachments []vk.ImageView, width, height uint32) (vk.Framebuffer, error) {
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.Handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	createInfo.Deref()

	var handle vk.Framebuffer
	if err := lockPool.SafeCall(FramebufferManagement, func() error {
		if result := vk.CreateFramebuffer(context.Device, &createInfo, context.Allocator, &handle); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateFramebuffer failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return handle, nil
}
