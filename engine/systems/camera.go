package systems

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
)

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/**
	 * @brief NOTE: The maximum number of named cameras that can be managed by
	 * the system. The default camera does not count.
	 */
	MaxCameraCount uint16
}

// CameraSystem hands out reference counted named cameras and tracks which
// one the frame is traced from.
type CameraSystem struct {
	Config *CameraSystemConfig

	mu      sync.Mutex
	cameras map[string]*components.CameraLookup
	active  string
	// A default, non-registered camera that always exists as a fallback.
	DefaultCamera *components.Camera
}

// The default camera starts here, looking at the origin.
var defaultCameraPosition = mgl32.Vec3{0, 1, 4}

func NewCameraSystem(config *CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		err := fmt.Errorf("func NewCameraSystem - config.MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	cs := &CameraSystem{
		Config:        config,
		cameras:       make(map[string]*components.CameraLookup, config.MaxCameraCount),
		active:        components.DEFAULT_CAMERA_NAME,
		DefaultCamera: components.NewCamera(),
	}
	cs.DefaultCamera.SetPosition(defaultCameraPosition)
	cs.DefaultCamera.LookAt(mgl32.Vec3{})
	return cs, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	clear(cs.cameras)
	cs.active = components.DEFAULT_CAMERA_NAME
	return nil
}

/**
 * @brief Acquires a pointer to a camera by name.
 * If one is not found, a new one is created and returned.
 * Internal reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	lookup, ok := cs.cameras[name]
	if !ok {
		if len(cs.cameras) >= int(cs.Config.MaxCameraCount) {
			err := fmt.Errorf("camera %q: all %d camera slots are in use", name, cs.Config.MaxCameraCount)
			core.LogError(err.Error())
			return nil, err
		}
		core.LogDebug("Creating new camera named '%s'...", name)
		lookup = &components.CameraLookup{Camera: components.NewCamera()}
		cs.cameras[name] = lookup
	}
	lookup.ReferenceCount++
	return lookup.Camera, nil
}

/**
 * @brief Releases a camera with the given name. Internal reference
 * counter is decremented. If this reaches 0, the camera is dropped
 * and the name is usable by a new camera.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("Cannot release default camera. Nothing was done.")
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	lookup, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("CameraSystem.Release: no camera named %q. Nothing was done.", name)
		return
	}
	lookup.ReferenceCount--
	if lookup.ReferenceCount < 1 {
		delete(cs.cameras, name)
		if cs.active == name {
			cs.active = components.DEFAULT_CAMERA_NAME
		}
	}
}

// SetActive selects the camera frames are traced from. The camera must
// have been acquired.
func (cs *CameraSystem) SetActive(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.cameras[name]; !ok && name != components.DEFAULT_CAMERA_NAME {
		return fmt.Errorf("camera %q has not been acquired", name)
	}
	cs.active = name
	return nil
}

// Active returns the camera frames are traced from.
func (cs *CameraSystem) Active() *components.Camera {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if lookup, ok := cs.cameras[cs.active]; ok {
		return lookup.Camera
	}
	return cs.DefaultCamera
}

func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.DefaultCamera
}
