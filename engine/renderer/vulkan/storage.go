package vulkan

import (
	"os"

	"github.com/spaghettifunk/aurora/engine/core"
)

/**
 * @brief Storage collaborator for the persisted pipeline-cache blob.
 * The blob is read at startup and written back at shutdown; its
 * structure is opaque to this core.
 */
type CacheStorage interface {
	Load() ([]byte, error)
	Store(data []byte) error
}

type FileCacheStorage struct {
	Path string
}

func (s *FileCacheStorage) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileCacheStorage) Store(data []byte) error {
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return err
	}
	core.LogDebug("pipeline cache blob stored to %s (%d bytes)", s.Path, len(data))
	return nil
}
