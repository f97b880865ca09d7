package engine

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// How often frame metrics are logged.
const metricsInterval = 5.0

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     atomic.Bool
	isSuspended   bool
	platform      *platform.Platform
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	clock         *core.Clock
	lastTime      float64
}

func New(g *Game, debug bool) (*Engine, error) {
	cfg := g.Config
	if err := core.SetLogLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return nil, err
	}

	p, err := platform.New()
	if err != nil {
		return nil, err
	}
	am := assets.NewAssetManager(&assets.AssetManagerConfig{
		DecodeWorkers: cfg.Scene.DecodeWorkers,
	})
	rs := systems.NewRendererSystem(cfg.Application.Name, cfg.Application.StartWidth, cfg.Application.StartHeight, p, cfg.RayTracing, debug)
	sm, err := systems.NewSystemManager(cfg, rs, am)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		clock:         core.NewClock(),
		platform:      p,
		assetManager:  am,
		systemManager: sm,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if !core.EventInitialize() {
		return errors.New("failed to initialize the event system")
	}
	if err := core.InputInitialize(); err != nil {
		return err
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_SCENE_SWAPPED, e, e.onScene)
	core.EventRegister(core.EVENT_CODE_SCENE_LOAD_FAILED, e, e.onScene)

	app := e.gameInstance.Config.Application
	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}

	if err := e.systemManager.Initialize(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.systemManager); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop on the calling goroutine, which must be the main
// OS thread, until the window closes or a quit event fires. A device failure
// is fatal.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	nextMetrics := metricsInterval

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}

		width, height := e.platform.FramebufferSize()
		if suspended := width == 0 || height == 0; suspended != e.isSuspended {
			e.isSuspended = suspended
			if suspended {
				core.LogInfo("Window minimized, suspending application.")
			} else {
				core.LogInfo("Window restored, resuming application.")
			}
		}
		if e.isSuspended {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := e.platform.AbsoluteTime()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		if err := e.systemManager.Frame(delta, width, height); err != nil {
			e.isRunning.Store(false)
			_ = e.Shutdown()
			core.LogFatal("frame failed: %s", err)
			return err
		}

		core.MetricsUpdate(e.platform.AbsoluteTime() - frameStartTime)
		if currentTime >= nextMetrics {
			fps, ms := core.MetricsFrame()
			core.LogDebug("%.0f fps, %.2f ms/frame, scene generation %d", fps, ms, e.systemManager.SceneManager.Generation())
			nextMetrics = currentTime + metricsInterval
		}

		core.InputUpdate(delta)
		e.lastTime = currentTime
	}
	return nil
}

// Stop asks the frame loop to exit after the current frame. Safe to call
// from any goroutine.
func (e *Engine) Stop() {
	core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	core.EventUnregister(core.EVENT_CODE_KEY_PRESSED, e)
	core.EventUnregister(core.EVENT_CODE_SCENE_SWAPPED, e)
	core.EventUnregister(core.EVENT_CODE_SCENE_LOAD_FAILED, e)

	errs = append(errs, e.systemManager.Shutdown())
	errs = append(errs, e.platform.Shutdown())
	errs = append(errs, core.InputShutdown())
	errs = append(errs, core.EventShutdown())
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	key := core.KeyCode(data.Data.U64[0])
	switch key {
	case core.KEY_ESCAPE:
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	case core.KEY_R, core.KEY_F5:
		if err := e.systemManager.Reload(); err != nil {
			core.LogWarn("reload: %s", err)
		}
		return true
	}
	if e.gameInstance.FnOnKey != nil {
		if err := e.gameInstance.FnOnKey(key); err != nil {
			core.LogError(err.Error())
		}
		return true
	}
	return false
}

func (e *Engine) onScene(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_SCENE_SWAPPED:
		core.LogInfo("scene %q live as generation %d", data.Data.C[0], data.Data.U64[0])
	case core.EVENT_CODE_SCENE_LOAD_FAILED:
		core.LogWarn("scene %q failed to load: %s", data.Data.C[0], data.Data.C[1])
	}
	return false
}
