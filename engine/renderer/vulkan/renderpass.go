package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/aurora/engine/core"
	"golang.org/x/exp/slices"
)

/**
 * @brief Describes one attachment of a render pass. FinalLayout may be
 * left as ImageLayoutUndefined, in which case the builder picks the
 * layout the attachment naturally ends the pass in, avoiding a
 * gratuitous transition at render-pass end.
 */
type AttachmentInfo struct {
	Format      vk.Format
	Samples     vk.SampleCountFlagBits
	IsSwapchain bool
	IsTransient bool
	FinalLayout vk.ImageLayout
}

/** @brief How a subpass uses the depth-stencil attachment. */
type DepthStencilMode int

const (
	DepthStencilNone DepthStencilMode = iota
	DepthStencilReadOnly
	DepthStencilReadWrite
)

type SubpassInfo struct {
	ColorAttachments   []uint32
	InputAttachments   []uint32
	ResolveAttachments []uint32
	DepthStencil       DepthStencilMode
}

/**
 * @brief Full description of a render pass. Color attachment bitmasks
 * select load/clear/store behaviour per color index; the depth-stencil
 * attachment has its own booleans. An empty Subpasses list means one
 * implicit subpass writing every color attachment plus depth-stencil
 * if present.
 */
type RenderPassDescription struct {
	ColorAttachments []AttachmentInfo
	DepthStencil     *AttachmentInfo

	ClearAttachments uint32
	LoadAttachments  uint32
	StoreAttachments uint32

	ClearDepthStencil bool
	LoadDepthStencil  bool
	StoreDepthStencil bool

	Subpasses []SubpassInfo
}

// subpasses returns the effective subpass list, materializing the
// implicit single subpass when none was declared.
func (d *RenderPassDescription) subpasses() []SubpassInfo {
	if len(d.Subpasses) > 0 {
		return d.Subpasses
	}
	sp := SubpassInfo{}
	for i := range d.ColorAttachments {
		sp.ColorAttachments = append(sp.ColorAttachments, uint32(i))
	}
	if d.DepthStencil != nil {
		sp.DepthStencil = DepthStencilReadWrite
	}
	return []SubpassInfo{sp}
}

func (d *RenderPassDescription) Hash() uint64 {
	h := NewHasher()
	h.U32(uint32(len(d.ColorAttachments)))
	for i := range d.ColorAttachments {
		a := &d.ColorAttachments[i]
		h.I32(int32(a.Format))
		h.I32(int32(a.Samples))
		h.Bool(a.IsSwapchain)
		h.Bool(a.IsTransient)
		h.I32(int32(a.FinalLayout))
	}
	h.Bool(d.DepthStencil != nil)
	if d.DepthStencil != nil {
		h.I32(int32(d.DepthStencil.Format))
		h.I32(int32(d.DepthStencil.Samples))
		h.Bool(d.DepthStencil.IsTransient)
		h.I32(int32(d.DepthStencil.FinalLayout))
	}
	h.U32(d.ClearAttachments)
	h.U32(d.LoadAttachments)
	h.U32(d.StoreAttachments)
	h.Bool(d.ClearDepthStencil)
	h.Bool(d.LoadDepthStencil)
	h.Bool(d.StoreDepthStencil)

	subpasses := d.subpasses()
	h.U32(uint32(len(subpasses)))
	for i := range subpasses {
		sp := &subpasses[i]
		for _, list := range [][]uint32{sp.ColorAttachments, sp.InputAttachments, sp.ResolveAttachments} {
			h.U32(uint32(len(list)))
			for _, ref := range list {
				h.U32(ref)
			}
		}
		h.I32(int32(sp.DepthStencil))
	}
	return h.Value()
}

// Validate reports structural defects before any native creation is
// attempted. All errors wrap core.ErrInvalidRenderPass.
func (d *RenderPassDescription) Validate() error {
	numColor := len(d.ColorAttachments)
	if numColor == 0 && d.DepthStencil == nil {
		return fmt.Errorf("%w: description has zero attachments", core.ErrInvalidRenderPass)
	}
	if numColor > VULKAN_MAX_COLOR_ATTACHMENTS {
		return fmt.Errorf("%w: %d color attachments exceeds the limit of %d",
			core.ErrInvalidRenderPass, numColor, VULKAN_MAX_COLOR_ATTACHMENTS)
	}

	colorMask := uint32(1)<<numColor - 1
	if overlap := d.ClearAttachments & d.LoadAttachments; overlap != 0 {
		return fmt.Errorf("%w: attachments %#x requested as both clear and load",
			core.ErrInvalidRenderPass, overlap)
	}
	if stray := (d.ClearAttachments | d.LoadAttachments | d.StoreAttachments) &^ colorMask; stray != 0 {
		return fmt.Errorf("%w: op masks reference nonexistent attachments %#x",
			core.ErrInvalidRenderPass, stray)
	}
	for i := range d.ColorAttachments {
		if d.ColorAttachments[i].IsTransient && (d.LoadAttachments|d.StoreAttachments)&(1<<i) != 0 {
			return fmt.Errorf("%w: transient attachment %d cannot be loaded or stored",
				core.ErrInvalidRenderPass, i)
		}
	}
	if d.ClearDepthStencil && d.LoadDepthStencil {
		return fmt.Errorf("%w: depth-stencil requested as both clear and load", core.ErrInvalidRenderPass)
	}
	if d.DepthStencil == nil && (d.ClearDepthStencil || d.LoadDepthStencil || d.StoreDepthStencil) {
		return fmt.Errorf("%w: depth-stencil ops specified with no depth-stencil attachment",
			core.ErrInvalidRenderPass)
	}
	if d.DepthStencil != nil && d.DepthStencil.IsTransient && (d.LoadDepthStencil || d.StoreDepthStencil) {
		return fmt.Errorf("%w: transient depth-stencil cannot be loaded or stored", core.ErrInvalidRenderPass)
	}

	subpasses := d.subpasses()
	dsIndex := uint32(numColor)
	for s := range subpasses {
		sp := &subpasses[s]
		for _, ref := range sp.ColorAttachments {
			if ref >= uint32(numColor) {
				return fmt.Errorf("%w: subpass %d color reference %d out of range",
					core.ErrInvalidRenderPass, s, ref)
			}
		}
		for _, ref := range sp.ResolveAttachments {
			if ref >= uint32(numColor) {
				return fmt.Errorf("%w: subpass %d resolve reference %d out of range",
					core.ErrInvalidRenderPass, s, ref)
			}
		}
		for _, ref := range sp.InputAttachments {
			limit := uint32(numColor)
			if d.DepthStencil != nil {
				limit++
			}
			if ref >= limit {
				return fmt.Errorf("%w: subpass %d input reference %d out of range",
					core.ErrInvalidRenderPass, s, ref)
			}
		}
		if sp.DepthStencil != DepthStencilNone && d.DepthStencil == nil {
			return fmt.Errorf("%w: subpass %d uses depth-stencil but none is attached",
				core.ErrInvalidRenderPass, s)
		}
	}

	// Every attachment must appear somewhere.
	for a := uint32(0); a < uint32(numColor); a++ {
		used := false
		for s := range subpasses {
			sp := &subpasses[s]
			if slices.Contains(sp.ColorAttachments, a) ||
				slices.Contains(sp.InputAttachments, a) ||
				slices.Contains(sp.ResolveAttachments, a) {
				used = true
				break
			}
		}
		if !used {
			return fmt.Errorf("%w: attachment %d is used by no subpass", core.ErrInvalidRenderPass, a)
		}
	}
	if d.DepthStencil != nil {
		used := false
		for s := range subpasses {
			sp := &subpasses[s]
			if sp.DepthStencil != DepthStencilNone || slices.Contains(sp.InputAttachments, dsIndex) {
				used = true
				break
			}
		}
		if !used {
			return fmt.Errorf("%w: depth-stencil attachment is used by no subpass", core.ErrInvalidRenderPass)
		}
	}
	return nil
}

/**
 * @brief Derived per-subpass data retained alongside the native pass.
 * Pipeline construction reads the sample count and the color reference
 * list of the active subpass.
 */
type SubpassMetadata struct {
	SampleCount        vk.SampleCountFlagBits
	ColorAttachments   []vk.AttachmentReference
	InputAttachments   []vk.AttachmentReference
	ResolveAttachments []vk.AttachmentReference
	DepthStencil       *vk.AttachmentReference
	PreserveAttachments []uint32
}

type VulkanRenderPass struct {
	Handle    vk.RenderPass
	Hash      uint64
	Subpasses []SubpassMetadata
}

func (rp *VulkanRenderPass) Destroy(context *VulkanContext) {
	if rp.Handle != nil {
		vk.DestroyRenderPass(context.Device, rp.Handle, context.Allocator)
		rp.Handle = nil
	}
}

// renderPassCompilation is the device-independent output of the
// dependency-inference walk: everything vkCreateRenderPass needs, plus
// the metadata the pipeline builder consumes.
type renderPassCompilation struct {
	attachments  []vk.AttachmentDescription
	subpasses    []vk.SubpassDescription
	dependencies []vk.SubpassDependency
	metadata     []SubpassMetadata
}

// attachmentUse captures how one subpass touches one attachment.
type attachmentUse struct {
	color   bool
	input   bool
	resolve bool
	depth   DepthStencilMode
}

func (u attachmentUse) any() bool {
	return u.color || u.input || u.resolve || u.depth != DepthStencilNone
}

// compileRenderPass runs the full attachment walk and dependency
// synthesis. Per attachment a layout cursor seeded from the computed
// initial layout advances through the subpasses in order; reference
// layouts, preserve lists and implicit-transition dependencies fall
// out of the walk.
func compileRenderPass(desc *RenderPassDescription) (*renderPassCompilation, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	numColor := len(desc.ColorAttachments)
	numAttachments := numColor
	if desc.DepthStencil != nil {
		numAttachments++
	}
	dsIndex := uint32(numColor)
	subpasses := desc.subpasses()
	numSubpasses := len(subpasses)

	// Resolve how each subpass uses each attachment up front.
	uses := make([][]attachmentUse, numSubpasses)
	for s := range subpasses {
		sp := &subpasses[s]
		uses[s] = make([]attachmentUse, numAttachments)
		for _, ref := range sp.ColorAttachments {
			uses[s][ref].color = true
		}
		for _, ref := range sp.ResolveAttachments {
			uses[s][ref].resolve = true
		}
		for _, ref := range sp.InputAttachments {
			uses[s][ref].input = true
		}
		if sp.DepthStencil != DepthStencilNone {
			uses[s][dsIndex].depth = sp.DepthStencil
		}
	}

	comp := &renderPassCompilation{
		attachments: make([]vk.AttachmentDescription, numAttachments),
		metadata:    make([]SubpassMetadata, numSubpasses),
	}

	// Reference layouts are filled during the walk; seed the per-subpass
	// reference tables with the declared attachment order first so the
	// walk can patch layouts in place.
	type refSlot struct {
		subpass int
		ref     *vk.AttachmentReference
	}
	refsFor := make([][]refSlot, numAttachments)
	for s := range subpasses {
		sp := &subpasses[s]
		meta := &comp.metadata[s]
		for _, a := range sp.ColorAttachments {
			meta.ColorAttachments = append(meta.ColorAttachments, vk.AttachmentReference{Attachment: a})
		}
		for i, a := range sp.ColorAttachments {
			refsFor[a] = append(refsFor[a], refSlot{s, &meta.ColorAttachments[i]})
		}
		for _, a := range sp.InputAttachments {
			meta.InputAttachments = append(meta.InputAttachments, vk.AttachmentReference{Attachment: a})
		}
		for i, a := range sp.InputAttachments {
			refsFor[a] = append(refsFor[a], refSlot{s, &meta.InputAttachments[i]})
		}
		for _, a := range sp.ResolveAttachments {
			meta.ResolveAttachments = append(meta.ResolveAttachments, vk.AttachmentReference{Attachment: a})
		}
		for i, a := range sp.ResolveAttachments {
			refsFor[a] = append(refsFor[a], refSlot{s, &meta.ResolveAttachments[i]})
		}
		if sp.DepthStencil != DepthStencilNone {
			meta.DepthStencil = &vk.AttachmentReference{Attachment: dsIndex}
			refsFor[dsIndex] = append(refsFor[dsIndex], refSlot{s, meta.DepthStencil})
		}
	}

	// Dependency accumulators.
	externalDep := make([]vk.SubpassDependency, numSubpasses)
	needExternal := make([]bool, numSubpasses)
	selfColor := make([]bool, numSubpasses)
	selfDepth := make([]bool, numSubpasses)
	writesColor := make([]bool, numSubpasses)
	writesDepth := make([]bool, numSubpasses)
	readsInput := make([]bool, numSubpasses)
	readsDepth := make([]bool, numSubpasses)

	for a := 0; a < numAttachments; a++ {
		isDepth := uint32(a) == dsIndex && desc.DepthStencil != nil
		var info *AttachmentInfo
		var cleared, loaded bool
		if isDepth {
			info = desc.DepthStencil
			cleared = desc.ClearDepthStencil
			loaded = desc.LoadDepthStencil
		} else {
			info = &desc.ColorAttachments[a]
			cleared = desc.ClearAttachments&(1<<a) != 0
			loaded = desc.LoadAttachments&(1<<a) != 0
		}

		// Seed the layout cursor.
		var cursor vk.ImageLayout
		switch {
		case info.IsTransient:
			cursor = vk.ImageLayoutUndefined
		case info.IsSwapchain:
			if cleared {
				cursor = vk.ImageLayoutUndefined
			} else {
				cursor = vk.ImageLayoutPresentSrc
			}
		case isDepth:
			cursor = vk.ImageLayoutDepthStencilAttachmentOptimal
		default:
			cursor = vk.ImageLayoutColorAttachmentOptimal
		}
		initialLayout := cursor
		needsImplicitTransition := info.IsSwapchain || info.IsTransient

		firstUse, lastUse := -1, -1
		for s := 0; s < numSubpasses; s++ {
			use := uses[s][a]
			if !use.any() {
				continue
			}
			if firstUse < 0 {
				firstUse = s
				if needsImplicitTransition {
					needExternal[s] = true
					dep := &externalDep[s]
					if isDepth {
						dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
						dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
						dep.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
						if loaded {
							dep.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit)
						}
					} else {
						dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
						dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
						dep.DstAccessMask |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
						if loaded {
							dep.DstAccessMask |= vk.AccessFlags(vk.AccessColorAttachmentReadBit)
						}
					}
				}
			}
			lastUse = s

			// Pick the reference layout for this subpass.
			var layout vk.ImageLayout
			switch {
			case use.depth == DepthStencilReadWrite && use.input:
				layout = vk.ImageLayoutGeneral
				selfDepth[s] = true
			case use.depth == DepthStencilReadWrite:
				layout = vk.ImageLayoutDepthStencilAttachmentOptimal
			case use.depth == DepthStencilReadOnly:
				layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			case use.color && use.input:
				layout = vk.ImageLayoutGeneral
				selfColor[s] = true
			case use.color || use.resolve:
				layout = vk.ImageLayoutColorAttachmentOptimal
			case use.input && isDepth:
				layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			default:
				layout = vk.ImageLayoutShaderReadOnlyOptimal
			}

			for _, slot := range refsFor[a] {
				if slot.subpass == s {
					slot.ref.Layout = layout
				}
			}
			cursor = layout

			if use.color || use.resolve {
				writesColor[s] = true
			}
			if use.depth == DepthStencilReadWrite {
				writesDepth[s] = true
			}
			if use.depth == DepthStencilReadOnly {
				readsDepth[s] = true
			}
			if use.input {
				readsInput[s] = true
			}
		}

		// Preserve in the gaps between first and last use.
		for s := firstUse + 1; s < lastUse; s++ {
			if !uses[s][a].any() {
				comp.metadata[s].PreserveAttachments = append(comp.metadata[s].PreserveAttachments, uint32(a))
			}
		}

		finalLayout := info.FinalLayout
		if finalLayout == vk.ImageLayoutUndefined {
			finalLayout = cursor
		}

		attachment := vk.AttachmentDescription{
			Format:         info.Format,
			Samples:        info.Samples,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout,
			FinalLayout:    finalLayout,
		}
		if attachment.Samples == 0 {
			attachment.Samples = vk.SampleCount1Bit
		}
		stored := desc.StoreAttachments&(1<<a) != 0
		if isDepth {
			stored = desc.StoreDepthStencil
		}
		switch {
		case cleared:
			attachment.LoadOp = vk.AttachmentLoadOpClear
		case loaded:
			attachment.LoadOp = vk.AttachmentLoadOpLoad
		}
		if stored {
			attachment.StoreOp = vk.AttachmentStoreOpStore
		}
		if isDepth {
			attachment.StencilLoadOp = attachment.LoadOp
			attachment.StencilStoreOp = attachment.StoreOp
		}
		attachment.Deref()
		comp.attachments[a] = attachment
	}

	// Per-subpass sample count from the attachments it renders to.
	for s := range subpasses {
		meta := &comp.metadata[s]
		meta.SampleCount = vk.SampleCount1Bit
		consider := func(samples vk.SampleCountFlagBits) {
			if samples > meta.SampleCount {
				meta.SampleCount = samples
			}
		}
		for _, ref := range meta.ColorAttachments {
			consider(comp.attachments[ref.Attachment].Samples)
		}
		if meta.DepthStencil != nil {
			consider(comp.attachments[meta.DepthStencil.Attachment].Samples)
		}
	}

	// Dependency synthesis pass (a): implicit initial transitions.
	for s := 0; s < numSubpasses; s++ {
		if !needExternal[s] {
			continue
		}
		dep := externalDep[s]
		dep.SrcSubpass = vk.SubpassExternal
		dep.DstSubpass = uint32(s)
		dep.Deref()
		comp.dependencies = append(comp.dependencies, dep)
	}

	// Pass (b): same-subpass feedback through input attachments.
	for s := 0; s < numSubpasses; s++ {
		if !selfColor[s] && !selfDepth[s] {
			continue
		}
		dep := vk.SubpassDependency{
			SrcSubpass:      uint32(s),
			DstSubpass:      uint32(s),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessInputAttachmentReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		}
		if selfColor[s] {
			dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			dep.SrcAccessMask |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		}
		if selfDepth[s] {
			dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
			dep.SrcAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
		}
		dep.Deref()
		comp.dependencies = append(comp.dependencies, dep)
	}

	// Pass (c): barriers between adjacent subpasses.
	for s := 0; s+1 < numSubpasses; s++ {
		dep := vk.SubpassDependency{
			SrcSubpass:      uint32(s),
			DstSubpass:      uint32(s + 1),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		}
		if writesColor[s] {
			dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			dep.SrcAccessMask |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		}
		if writesDepth[s] {
			dep.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
			dep.SrcAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
		}
		if readsInput[s+1] {
			dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
			dep.DstAccessMask |= vk.AccessFlags(vk.AccessInputAttachmentReadBit)
		}
		if writesColor[s+1] {
			dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			dep.DstAccessMask |= vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		}
		if writesDepth[s+1] || readsDepth[s+1] {
			dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
			dep.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit)
			if writesDepth[s+1] {
				dep.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
			}
		}
		if dep.SrcStageMask == 0 {
			// Nothing written earlier still needs ordering; execution
			// dependency on color output keeps the pair valid.
			dep.SrcStageMask = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		}
		dep.Deref()
		comp.dependencies = append(comp.dependencies, dep)
	}

	// Native subpass descriptions from the metadata tables.
	comp.subpasses = make([]vk.SubpassDescription, numSubpasses)
	for s := range subpasses {
		meta := &comp.metadata[s]
		sub := vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(meta.ColorAttachments)),
			PColorAttachments:       meta.ColorAttachments,
			InputAttachmentCount:    uint32(len(meta.InputAttachments)),
			PInputAttachments:       meta.InputAttachments,
			PResolveAttachments:     meta.ResolveAttachments,
			PDepthStencilAttachment: meta.DepthStencil,
			PreserveAttachmentCount: uint32(len(meta.PreserveAttachments)),
			PPreserveAttachments:    meta.PreserveAttachments,
		}
		sub.Deref()
		comp.subpasses[s] = sub
	}
	return comp, nil
}

/**
 * @brief Unevicted cache of render passes keyed by description hash.
 * The input space is bounded by the handful of attachment/subpass
 * combinations an application uses, so entries live until Clear.
 *
 * MissCallback, when set, is consulted on a lookup with lazy creation
 * disallowed; returning true forces creation anyway. Used by
 * pre-warming workflows to spot unexpected runtime pass generation.
 */
type VulkanRenderPassCache struct {
	context *VulkanContext
	passes  map[uint64]*VulkanRenderPass

	MissCallback func(desc *RenderPassDescription) bool

	// Creation hook, replaceable in tests.
	create func(context *VulkanContext, desc *RenderPassDescription, hash uint64) (*VulkanRenderPass, error)
}

func NewVulkanRenderPassCache(context *VulkanContext) *VulkanRenderPassCache {
	return &VulkanRenderPassCache{
		context: context,
		passes:  make(map[uint64]*VulkanRenderPass),
		create:  newRenderPass,
	}
}

// ObtainRenderPass returns the pass matching the description, creating
// it on a miss when allowLazy permits. With lazy creation disallowed
// and no cached match, the result is (nil, nil): a soft miss, distinct
// from a creation failure.
func (c *VulkanRenderPassCache) ObtainRenderPass(desc *RenderPassDescription, allowLazy bool) (*VulkanRenderPass, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	hash := desc.Hash()
	if pass, ok := c.passes[hash]; ok {
		return pass, nil
	}
	if !allowLazy {
		if c.MissCallback == nil || !c.MissCallback(desc) {
			core.LogWarn("render pass %x not cached and lazy creation disallowed", hash)
			return nil, nil
		}
	}
	pass, err := c.create(c.context, desc, hash)
	if err != nil {
		return nil, err
	}
	c.passes[hash] = pass
	core.LogDebug("render pass created (hash %x, %d subpasses)", hash, len(pass.Subpasses))
	return pass, nil
}

func (c *VulkanRenderPassCache) Len() int {
	return len(c.passes)
}

func (c *VulkanRenderPassCache) Clear() {
	for hash, pass := range c.passes {
		pass.Destroy(c.context)
		delete(c.passes, hash)
	}
}

func newRenderPass(context *VulkanContext, desc *RenderPassDescription, hash uint64) (*VulkanRenderPass, error) {
	comp, err := compileRenderPass(desc)
	if err != nil {
		return nil, err
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(comp.attachments)),
		PAttachments:    comp.attachments,
		SubpassCount:    uint32(len(comp.subpasses)),
		PSubpasses:      comp.subpasses,
		DependencyCount: uint32(len(comp.dependencies)),
		PDependencies:   comp.dependencies,
	}
	createInfo.Deref()

	outPass := &VulkanRenderPass{
		Hash:      hash,
		Subpasses: comp.metadata,
	}
	if err := lockPool.SafeCall(RenderpassManagement, func() error {
		var handle vk.RenderPass
		if result := vk.CreateRenderPass(context.Device, &createInfo, context.Allocator, &handle); !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateRenderPass failed with %s", VulkanResultString(result, true))
		}
		outPass.Handle = handle
		return nil
	}); err != nil {
		return nil, err
	}
	return outPass, nil
}
