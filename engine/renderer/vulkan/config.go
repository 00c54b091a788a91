package vulkan

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Renderer configuration, loaded from a TOML file. Zero values
 * fall back to the defaults, so partial files are fine.
 */
type RendererConfig struct {
	/** @brief One of debug, info, warn, error. */
	LogLevel string `toml:"log_level"`
	/** @brief Where the opaque pipeline-cache blob is persisted. Empty disables persistence. */
	PipelineCachePath string `toml:"pipeline_cache_path"`

	DescriptorFramesUntilEviction  uint8 `toml:"descriptor_frames_until_eviction"`
	FramebufferFramesUntilEviction uint8 `toml:"framebuffer_frames_until_eviction"`

	/** @brief When false, ObtainRenderPass misses return nil instead of building lazily. */
	AllowLazyRenderPasses bool `toml:"allow_lazy_render_passes"`

	/** @brief Directory watched for SPIR-V changes. Empty disables hot reload. */
	ShaderWatchDir string `toml:"shader_watch_dir"`
}

func DefaultRendererConfig() *RendererConfig {
	return &RendererConfig{
		LogLevel:                       "info",
		DescriptorFramesUntilEviction:  VULKAN_DESCRIPTOR_FRAMES_UNTIL_EVICTION,
		FramebufferFramesUntilEviction: 4,
		AllowLazyRenderPasses:          true,
	}
}

// LoadRendererConfig reads and applies a TOML config file on top of the
// defaults.
func LoadRendererConfig(path string) (*RendererConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultRendererConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("renderer config %s: %w", path, err)
	}
	if err := config.Apply(); err != nil {
		return nil, err
	}
	return config, nil
}

// Apply normalizes the config and pushes the log level into core.
func (c *RendererConfig) Apply() error {
	if c.DescriptorFramesUntilEviction == 0 {
		c.DescriptorFramesUntilEviction = VULKAN_DESCRIPTOR_FRAMES_UNTIL_EVICTION
	}
	if c.FramebufferFramesUntilEviction == 0 {
		c.FramebufferFramesUntilEviction = 4
	}
	switch c.LogLevel {
	case "", "info":
		core.SetLogLevel(core.InfoLogLevel)
	case "debug":
		core.SetLogLevel(core.DebugLogLevel)
	case "warn":
		core.SetLogLevel(core.WarnLogLevel)
	case "error":
		core.SetLogLevel(core.ErrorLogLevel)
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
