package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/aurora/engine/core"
)

type watchedStage struct {
	program    *VulkanShaderProgram
	stageIndex int
}

/**
 * @brief Watches SPIR-V files and invalidates the cached pipelines of
 * the programs built from them when the bytecode changes on disk.
 *
 * The fsnotify goroutine only records which paths changed; the actual
 * reload runs on the encoding thread through ProcessPending, so cache
 * mutation stays inside the single-threaded begin-frame phase.
 */
type ShaderWatcher struct {
	frame    *VulkanFrame
	fsnotify *fsnotify.Watcher

	mutex    sync.Mutex
	stages   map[string][]watchedStage
	pending  map[string]struct{}
	done     chan struct{}
	isClosed bool

	// SPIR-V loader, replaceable in tests.
	loadCode func(path string) ([]uint32, error)
}

func NewShaderWatcher(frame *VulkanFrame) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ShaderWatcher{
		frame:    frame,
		fsnotify: fsWatch,
		stages:   make(map[string][]watchedStage),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
		loadCode: loadSPIRV,
	}
	go w.start()
	return w, nil
}

// WatchDir starts watching the named directory and all sub-directories.
func (w *ShaderWatcher) WatchDir(dir string) error {
	if w.isClosed {
		return errors.New("shader watcher already closed")
	}
	return filepath.Walk(dir, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}

// WatchProgram registers every stage of the program whose module came
// from a file, so a write to that file reloads the stage.
func (w *ShaderWatcher) WatchProgram(program *VulkanShaderProgram) error {
	if w.isClosed {
		return errors.New("shader watcher already closed")
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for i, stage := range program.Stages {
		if stage.Path == "" {
			continue
		}
		path := filepath.Clean(stage.Path)
		w.stages[path] = append(w.stages[path], watchedStage{program: program, stageIndex: i})
		if err := w.fsnotify.Add(filepath.Dir(path)); err != nil {
			return err
		}
	}
	return nil
}

func (w *ShaderWatcher) start() {
	for {
		select {
		case e := <-w.fsnotify.Events:
			if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					w.fsnotify.Add(e.Name)
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.markPending(e.Name)
			}

		case e := <-w.fsnotify.Errors:
			if e != nil {
				core.LogError(e.Error())
			}

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *ShaderWatcher) markPending(name string) {
	path := filepath.Clean(name)
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, watched := w.stages[path]; watched {
		w.pending[path] = struct{}{}
	}
}

// ProcessPending reloads every stage whose file changed since the last
// call. Invoked from the begin-frame phase; returns how many stages
// were reloaded.
func (w *ShaderWatcher) ProcessPending() int {
	w.mutex.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mutex.Unlock()

	reloaded := 0
	for _, path := range paths {
		code, err := w.loadCode(path)
		if err != nil {
			core.LogError("shader reload of %s failed: %s", path, err)
			continue
		}
		w.mutex.Lock()
		targets := append([]watchedStage(nil), w.stages[path]...)
		w.mutex.Unlock()
		for _, target := range targets {
			if err := target.program.ReloadStage(w.frame, target.stageIndex, code); err != nil {
				core.LogError("shader reload of %s failed: %s", path, err)
				continue
			}
			reloaded++
		}
		core.LogInfo("reloaded shader %s", path)
	}
	return reloaded
}

func (w *ShaderWatcher) Close() {
	if w.isClosed {
		return
	}
	w.isClosed = true
	close(w.done)
}

// loadSPIRV reads a SPIR-V binary into the word slice the shader module
// creation expects.
func loadSPIRV(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%s is not a SPIR-V binary (%d bytes)", path, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}
