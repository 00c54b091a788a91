package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanContext struct {
	// Logical device used for all native object creation. Owned by the
	// device collaborator, never destroyed here.
	Device vk.Device

	Allocator *vk.AllocationCallbacks

	// Monotonic serial assigned by the submission collaborator. Objects
	// retired while this serial is in flight are destroyed once the
	// collaborator reports it complete.
	SubmissionSerial uint64

	// Advanced by VulkanFrame.BeginFrame.
	FrameNumber uint64
}
