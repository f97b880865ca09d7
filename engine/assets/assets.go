package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type AssetInfo struct {
	Path       string
	LastLoaded time.Time
}

type AssetManagerConfig struct {
	// DecodeWorkers bounds parallel texture decoding per scene.
	DecodeWorkers int
	// Debounce collapses the burst of write events editors produce on save.
	Debounce time.Duration
}

// AssetManager resolves scene files to loaders by extension and, when
// watching, fires EVENT_CODE_ASSET_CHANGED for modified scene files.
type AssetManager struct {
	config  *AssetManagerConfig
	loaders map[string]Loader

	mutex  sync.RWMutex
	assets map[string]AssetInfo
	fired  map[string]time.Time

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager(config *AssetManagerConfig) *AssetManager {
	if config.Debounce == 0 {
		config.Debounce = 250 * time.Millisecond
	}
	am := &AssetManager{
		config:  config,
		loaders: make(map[string]Loader),
		assets:  make(map[string]AssetInfo),
		fired:   make(map[string]time.Time),
	}

	// Register loaders
	pool := loaders.NewTexturePool(config.DecodeWorkers)
	am.registerLoader(loaders.NewGLTFLoader(pool))
	am.registerLoader(loaders.NewOBJLoader(pool))
	am.registerLoader(loaders.NewProceduralLoader(pool))
	return am
}

// Register loaders for each extension
func (am *AssetManager) registerLoader(loader Loader) {
	for _, ext := range loader.Extensions() {
		am.loaders[ext] = loader
	}
}

// Supported reports whether path names a loadable scene file.
func (am *AssetManager) Supported(path string) bool {
	_, ok := am.loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load decodes the scene at path with the loader registered for its extension.
func (am *AssetManager) Load(path string) (*metadata.SceneResource, error) {
	loader, ok := am.loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, core.ErrUnsupportedFormat)
	}

	start := time.Now()
	res, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	am.assets[path] = AssetInfo{Path: path, LastLoaded: time.Now()}
	am.mutex.Unlock()

	core.LogInfo("loaded %q in %s", path, time.Since(start))
	return res, nil
}

// Assets returns what has been loaded so far.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

// Watch starts watching dir and all sub-directories.
func (am *AssetManager) Watch(dir string) error {
	if am.fsnotify != nil {
		return errors.New("asset manager is already watching")
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = fsWatch
	am.done = make(chan struct{})
	am.stopped = make(chan struct{})

	if err := am.watchRecursive(dir); err != nil {
		fsWatch.Close()
		am.fsnotify = nil
		return err
	}
	go am.start()
	core.LogInfo("watching %q for scene changes", dir)
	return nil
}

func (am *AssetManager) Shutdown() error {
	if am.fsnotify == nil || am.isClosed {
		return nil
	}
	am.isClosed = true
	close(am.done)
	<-am.stopped
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("cannot watch %q: %s", e.Name, err.Error())
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			if e.Op&fsnotify.Remove != 0 {
				am.removeAsset(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("%s", err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	if !am.Supported(path) {
		return
	}

	am.mutex.Lock()
	last, seen := am.fired[path]
	now := time.Now()
	if seen && now.Sub(last) < am.config.Debounce {
		am.mutex.Unlock()
		return
	}
	am.fired[path] = now
	am.mutex.Unlock()

	core.LogDebug("scene file changed: %q", path)
	ctx := core.EventContext{}
	ctx.Data.C[0] = path
	core.EventFire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
	delete(am.fired, path)
}
