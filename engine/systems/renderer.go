package systems

import (
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
)

type RendererSystem struct {
	backend renderer.RendererBackend

	// application
	AppName   string
	AppWidth  uint32
	AppHeight uint32

	// The number of frames drawn since startup.
	FrameNumber uint64
}

func NewRendererSystem(appName string, appWidth, appHeight uint32, p *platform.Platform, cfg config.RayTracingConfig, debug bool) *RendererSystem {
	return newRendererSystem(appName, appWidth, appHeight, vulkan.New(p, cfg, debug))
}

func newRendererSystem(appName string, appWidth, appHeight uint32, backend renderer.RendererBackend) *RendererSystem {
	return &RendererSystem{
		backend:   backend,
		AppName:   appName,
		AppWidth:  appWidth,
		AppHeight: appHeight,
	}
}

func (r *RendererSystem) Initialize() error {
	if err := r.backend.Initialize(r.AppName, r.AppWidth, r.AppHeight); err != nil {
		core.LogError("renderer backend failed to initialize: %s", err)
		return err
	}
	core.LogInfo("Renderer system initialized.")
	return nil
}

func (r *RendererSystem) Shutdown() error {
	return r.backend.Shutdown()
}

// DrawFrame traces the scene from camera and presents it. An error means
// the device is lost.
func (r *RendererSystem) DrawFrame(deltaTime float64, camera *components.Camera, width, height uint32) error {
	aspect := float32(1)
	if width > 0 && height > 0 {
		aspect = float32(width) / float32(height)
	}
	frame := metadata.FrameData{
		DeltaTime:         deltaTime,
		InverseView:       camera.InverseView(),
		InverseProjection: camera.Projection(aspect).Inv(),
	}
	if err := r.backend.DrawFrame(frame); err != nil {
		return err
	}
	r.FrameNumber++
	return nil
}

func (r *RendererSystem) Device() renderer.Device {
	return r.backend.Device()
}

func (r *RendererSystem) DescriptorSet() renderer.DescriptorSet {
	return r.backend.DescriptorSet()
}
