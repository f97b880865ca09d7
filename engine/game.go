package engine

import (
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Game struct {
	Config       *config.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnKey      OnKey
	FnShutdown   Shutdown
}

// Initialize runs once the renderer is up and the configured scenes are queued.
type Initialize func(sm *systems.SystemManager) error

// Update runs once per frame before the frame is drawn.
type Update func(deltaTime float64) error

// OnKey receives key presses the engine does not handle itself.
type OnKey func(key core.KeyCode) error

type Shutdown func() error
