package systems

import (
	"errors"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
)

// SceneSource decodes scene files and optionally watches them for changes.
type SceneSource interface {
	assets.SceneLoader
	Watch(dir string) error
	Shutdown() error
}

type SystemManager struct {
	config *config.Config

	assets      SceneSource
	diagnostics *diagnostics.Service
	jobSystem   *JobSystem

	CameraSystem   *CameraSystem
	RendererSystem *RendererSystem
	SceneManager   *SceneManager
	SceneStreamer  *SceneStreamer
}

func NewSystemManager(cfg *config.Config, rs *RendererSystem, source SceneSource) (*SystemManager, error) {
	js, err := NewJobSystem(cfg.RayTracing.JobWorkers, 1)
	if err != nil {
		return nil, err
	}
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 16})
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		config:         cfg,
		CameraSystem:   cs,
		assets:         source,
		diagnostics:    diagnostics.New(0),
		jobSystem:      js,
		RendererSystem: rs,
	}, nil
}

// Initialize brings the renderer up and binds an empty scene, then queues
// the configured scenes on the streamer.
func (sm *SystemManager) Initialize() error {
	if err := sm.diagnostics.Initialize(); err != nil {
		return err
	}
	if err := sm.RendererSystem.Initialize(); err != nil {
		return err
	}

	scenes, err := NewSceneManager(&SceneManagerConfig{
		MaxTextureCount:  sm.config.RayTracing.MaxTextureCount,
		MinMaterialCount: sm.config.RayTracing.MinMaterialCount,
	}, sm.RendererSystem.Device(), sm.RendererSystem.DescriptorSet(), sm.assets, sm.jobSystem, sm.diagnostics)
	if err != nil {
		return err
	}
	if err := scenes.Initialize(); err != nil {
		return err
	}
	sm.SceneManager = scenes

	sm.SceneStreamer = NewSceneStreamer(scenes, 0)
	if err := sm.SceneStreamer.Initialize(sm.config.Scene.HotReload); err != nil {
		return err
	}
	if sm.config.Scene.HotReload {
		if err := sm.assets.Watch(sm.config.Scene.WatchDir); err != nil {
			return err
		}
	}

	if sm.config.Scene.Path != "" {
		if err := sm.SceneStreamer.Load(sm.config.Scene.Path); err != nil {
			return err
		}
	}
	for _, p := range sm.config.Scene.Append {
		if err := sm.SceneStreamer.Append(p); err != nil {
			return err
		}
	}
	return nil
}

// Frame applies a finished load, starts the next queued one and draws from
// the active camera into a width x height window. Errors are device
// failures; the engine cannot continue past them.
func (sm *SystemManager) Frame(deltaTime float64, width, height uint32) error {
	if err := sm.SceneManager.RenderTick(); err != nil {
		return err
	}
	if err := sm.SceneStreamer.Update(); err != nil {
		core.LogError("scene streaming: %s", err)
	}
	if err := sm.RendererSystem.DrawFrame(deltaTime, sm.CameraSystem.Active(), width, height); err != nil {
		return sm.diagnostics.RecordFailure("draw frame", err)
	}
	return nil
}

// Reload queues a reload of the resident scene and of everything appended
// to it.
func (sm *SystemManager) Reload() error {
	path := sm.SceneManager.Path()
	if path == "" {
		return nil
	}
	errs := []error{sm.SceneStreamer.Load(path)}
	for _, p := range sm.SceneManager.Appended() {
		errs = append(errs, sm.SceneStreamer.Append(p))
	}
	return errors.Join(errs...)
}

func (sm *SystemManager) Diagnostics() *diagnostics.Service {
	return sm.diagnostics
}

// Shutdown stops watching and loading, then releases GPU state in reverse
// creation order.
func (sm *SystemManager) Shutdown() error {
	var errs []error
	if sm.SceneStreamer != nil {
		errs = append(errs, sm.SceneStreamer.Shutdown())
	}
	errs = append(errs, sm.assets.Shutdown())
	errs = append(errs, sm.jobSystem.Shutdown())
	if sm.SceneManager != nil {
		errs = append(errs, sm.SceneManager.Shutdown())
	}
	errs = append(errs, sm.RendererSystem.Shutdown())
	errs = append(errs, sm.CameraSystem.Shutdown())
	errs = append(errs, sm.diagnostics.Shutdown())
	return errors.Join(errs...)
}
