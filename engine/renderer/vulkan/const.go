package vulkan

/**
 * @brief Max number of vertex buffer bindings tracked per encoding context.
 */
const VULKAN_MAX_VERTEX_BINDINGS = 4

/**
 * @brief Max number of vertex attributes tracked per encoding context.
 */
const VULKAN_MAX_VERTEX_ATTRIBUTES = 16

/**
 * @brief Max number of descriptor sets referenced by a pipeline layout.
 */
const VULKAN_MAX_DESCRIPTOR_SETS = 4

/**
 * @brief Max number of bindings within a single descriptor set.
 */
const VULKAN_MAX_BINDINGS_PER_SET = 16

/**
 * @brief Max number of color attachments in a render pass description.
 */
const VULKAN_MAX_COLOR_ATTACHMENTS = 8

/**
 * @brief Size of the push constant block. The Vulkan spec only
 * guarantees 128 bytes.
 */
const VULKAN_MAX_PUSH_CONSTANT_SIZE = 128

/**
 * @brief Number of descriptor sets allocated per native pool, so that
 * pool creation cost is amortized over a batch of sets.
 */
const VULKAN_DESCRIPTOR_SETS_PER_POOL = 16
