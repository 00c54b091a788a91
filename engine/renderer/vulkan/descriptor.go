package vulkan

import (
	"fmt"
	"math/bits"

	vk "github.com/goki/vulkan"
)

/**
 * @brief Number of BeginFrame calls a descriptor set survives without
 * being requested. Sets churn fast, so the window is short.
 */
const VULKAN_DESCRIPTOR_FRAMES_UNTIL_EVICTION = 2

/**
 * @brief Identifies a distinct descriptor set layout. Allocators are
 * cached per key, so layouts that also differ in immutable sampler
 * identity get their own allocator.
 */
type DescriptorSetLayoutKey struct {
	Info DescriptorSetLayoutInfo
	// Content identity of the immutable sampler, 0 when none.
	ImmutableSamplerID uint64
}

// Hash order: the set masks, then the sampler identity.
func (k DescriptorSetLayoutKey) Hash() uint64 {
	h := NewHasher()
	k.Info.hashInto(h)
	h.U64(k.ImmutableSamplerID)
	return h.Value()
}

/**
 * @brief One cached, reusable descriptor set. The native handle stays
 * valid for the lifetime of the pool block that produced it.
 */
type DescriptorSetNode struct {
	Handle vk.DescriptorSet
	block  int32
}

// descriptorBlock couples a batch of sets to the pool they came from.
// The pool is destroyed as a unit once every set of the block has been
// evicted back onto the free list.
type descriptorBlock struct {
	pool vk.DescriptorPool
	free []*DescriptorSetNode
	live int32
	size int32
}

// descriptorBlockPolicy is the CachePolicy feeding the allocator's hash
// cache. createPool is replaceable so the allocator logic is testable
// without a device.
type descriptorBlockPolicy struct {
	context    *VulkanContext
	layout     vk.DescriptorSetLayout
	poolSizes  []vk.DescriptorPoolSize
	blocks     []*descriptorBlock
	createPool func(count uint32) (vk.DescriptorPool, []vk.DescriptorSet, error)
}

func (p *descriptorBlockPolicy) Allocate() (*DescriptorSetNode, error) {
	for _, block := range p.blocks {
		if block == nil {
			continue
		}
		if n := len(block.free); n > 0 {
			node := block.free[n-1]
			block.free = block.free[:n-1]
			block.live++
			return node, nil
		}
	}

	pool, sets, err := p.createPool(VULKAN_DESCRIPTOR_SETS_PER_POOL)
	if err != nil {
		return nil, err
	}
	block := &descriptorBlock{pool: pool, size: int32(len(sets))}

	// Reuse a vacated block slot so node block indices stay stable.
	blockIndex := int32(-1)
	for i := range p.blocks {
		if p.blocks[i] == nil {
			blockIndex = int32(i)
			p.blocks[i] = block
			break
		}
	}
	if blockIndex < 0 {
		blockIndex = int32(len(p.blocks))
		p.blocks = append(p.blocks, block)
	}

	for _, s := range sets[1:] {
		block.free = append(block.free, &DescriptorSetNode{Handle: s, block: blockIndex})
	}
	block.live = 1
	return &DescriptorSetNode{Handle: sets[0], block: blockIndex}, nil
}

func (p *descriptorBlockPolicy) Release(node *DescriptorSetNode) {
	block := p.blocks[node.block]
	block.free = append(block.free, node)
	block.live--
	if block.live == 0 && int32(len(block.free)) == block.size {
		p.destroyBlock(node.block)
	}
}

func (p *descriptorBlockPolicy) Clear() {
	for i := range p.blocks {
		if p.blocks[i] != nil && p.blocks[i].pool != nil {
			vk.DestroyDescriptorPool(p.context.Device, p.blocks[i].pool, p.context.Allocator)
		}
	}
	p.blocks = p.blocks[:0]
}

// destroyBlock vacates the slot instead of compacting the slice, so
// nodes still checked out of other blocks keep valid block indices.
func (p *descriptorBlockPolicy) destroyBlock(index int32) {
	block := p.blocks[index]
	if block.pool != nil {
		vk.DestroyDescriptorPool(p.context.Device, block.pool, p.context.Allocator)
	}
	p.blocks[index] = nil
}

func (p *descriptorBlockPolicy) createPoolNative(count uint32) (vk.DescriptorPool, []vk.DescriptorSet, error) {
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       count,
		PoolSizeCount: uint32(len(p.poolSizes)),
		PPoolSizes:    p.poolSizes,
	}
	poolInfo.Deref()

	var pool vk.DescriptorPool
	var sets []vk.DescriptorSet
	if err := lockPool.SafeCall(DescriptorManagement, func() error {
		if result := vk.CreateDescriptorPool(p.context.Device, &poolInfo, p.context.Allocator, &pool); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateDescriptorPool failed with %s", VulkanResultString(result, true))
		}

		layouts := make([]vk.DescriptorSetLayout, count)
		for i := range layouts {
			layouts[i] = p.layout
		}
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: count,
			PSetLayouts:        layouts,
		}
		allocateInfo.Deref()

		sets = make([]vk.DescriptorSet, count)
		if result := vk.AllocateDescriptorSets(p.context.Device, &allocateInfo, &sets[0]); !VulkanResultIsSuccess(result) {
			vk.DestroyDescriptorPool(p.context.Device, pool, p.context.Allocator)
			return fmt.Errorf("vkAllocateDescriptorSets failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return pool, sets, nil
}

// descriptorPoolSizes sizes one pool block from the layout's binding
// type counts.
func descriptorPoolSizes(info *DescriptorSetLayoutInfo, setsPerPool uint32) []vk.DescriptorPoolSize {
	var sizes []vk.DescriptorPoolSize
	add := func(mask uint32, descriptorType vk.DescriptorType) {
		if mask == 0 {
			return
		}
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: uint32(bits.OnesCount32(mask)) * setsPerPool,
		})
	}
	add(info.SampledImageMask, vk.DescriptorTypeCombinedImageSampler)
	add(info.StorageImageMask, vk.DescriptorTypeStorageImage)
	add(info.UniformBufferMask, vk.DescriptorTypeUniformBuffer)
	add(info.StorageBufferMask, vk.DescriptorTypeStorageBuffer)
	add(info.SampledBufferMask, vk.DescriptorTypeUniformTexelBuffer)
	add(info.InputAttachmentMask, vk.DescriptorTypeInputAttachment)
	return sizes
}

/**
 * @brief Per-layout cache of bound-resource-set objects. One allocator
 * exists per distinct DescriptorSetLayoutKey; Get hands out a set for a
 * binding content hash, allocating native sets in pool-sized batches.
 */
type VulkanDescriptorSetAllocator struct {
	context *VulkanContext
	Layout  vk.DescriptorSetLayout
	Key     DescriptorSetLayoutKey
	cache   *VulkanHashCache[*DescriptorSetNode]
	policy  *descriptorBlockPolicy

	// Replaceable descriptor write hook; tests record instead of
	// touching the device.
	update func(writes []vk.WriteDescriptorSet)
}

func NewVulkanDescriptorSetAllocator(context *VulkanContext, key DescriptorSetLayoutKey, framesUntilEviction uint8) (*VulkanDescriptorSetAllocator, error) {
	bindings := descriptorSetLayoutBindings(&key.Info)
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	createInfo.Deref()

	var layout vk.DescriptorSetLayout
	if err := lockPool.SafeCall(DescriptorManagement, func() error {
		if result := vk.CreateDescriptorSetLayout(context.Device, &createInfo, context.Allocator, &layout); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateDescriptorSetLayout failed with %s", VulkanResultString(result, true))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	allocator := newDescriptorSetAllocator(context, key, layout, framesUntilEviction)
	return allocator, nil
}

// newDescriptorSetAllocator wires the cache and policy without touching
// the device; NewVulkanDescriptorSetAllocator adds the native layout.
func newDescriptorSetAllocator(context *VulkanContext, key DescriptorSetLayoutKey, layout vk.DescriptorSetLayout, framesUntilEviction uint8) *VulkanDescriptorSetAllocator {
	policy := &descriptorBlockPolicy{
		context:   context,
		layout:    layout,
		poolSizes: descriptorPoolSizes(&key.Info, VULKAN_DESCRIPTOR_SETS_PER_POOL),
	}
	policy.createPool = policy.createPoolNative

	allocator := &VulkanDescriptorSetAllocator{
		context: context,
		Layout:  layout,
		Key:     key,
		policy:  policy,
		cache:   NewVulkanHashCache[*DescriptorSetNode](framesUntilEviction, policy),
	}
	allocator.update = func(writes []vk.WriteDescriptorSet) {
		vk.UpdateDescriptorSets(context.Device, uint32(len(writes)), writes, 0, nil)
	}
	return allocator
}

// Get returns the set cached under hash. populated=false means the set
// was freshly allocated and the caller must write its descriptors via
// WriteSet before binding it.
func (a *VulkanDescriptorSetAllocator) Get(hash uint64) (*DescriptorSetNode, bool, error) {
	return a.cache.Obtain(hash)
}

// WriteSet performs the native descriptor update for a set returned
// unpopulated by Get.
func (a *VulkanDescriptorSetAllocator) WriteSet(node *DescriptorSetNode, writes []vk.WriteDescriptorSet) {
	for i := range writes {
		writes[i].DstSet = node.Handle
	}
	a.update(writes)
}

func (a *VulkanDescriptorSetAllocator) BeginFrame() {
	a.cache.BeginFrame()
}

func (a *VulkanDescriptorSetAllocator) Clear() {
	a.cache.Clear()
}

func (a *VulkanDescriptorSetAllocator) Destroy() {
	a.Clear()
	if a.Layout != nil {
		vk.DestroyDescriptorSetLayout(a.context.Device, a.Layout, a.context.Allocator)
		a.Layout = nil
	}
}
