package testbed

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/systems"
)

var sceneExtensions = []string{".gltf", ".glb", ".obj", ".toml"}

// streamer is the part of the scene streamer the testbed drives.
type streamer interface {
	Load(path string) error
	Append(path string) error
}

const (
	moveSpeed = float32(2.0)
	turnSpeed = float32(1.2)
)

// TestGame cycles through the scenes of the watch directory. N replaces the
// resident scene with the next one, Space streams the next one into it.
// WASD, Q and E fly the default camera; the arrow keys turn it.
type TestGame struct {
	*engine.Game
}

type gameState struct {
	streamer streamer
	camera   *components.Camera
	scenes   []string
	next     int
}

func NewTestGame(cfg *config.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnKey = tg.OnKey
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(sm *systems.SystemManager) error {
	scenes, err := listScenes(g.Config.Scene.WatchDir)
	if err != nil {
		core.LogWarn("testbed: no scene playlist: %s", err)
	}
	g.attach(sm.SceneStreamer, scenes, g.Config.Scene.Path)
	g.state().camera = sm.CameraSystem.GetDefault()
	core.LogInfo("testbed: %d scenes in playlist, N loads the next, Space appends it", len(scenes))
	return nil
}

// attach sets the playlist up so that the first N after startup moves past
// the scene already configured.
func (g *TestGame) attach(s streamer, scenes []string, current string) {
	st := g.state()
	st.streamer = s
	st.scenes = scenes
	if i := slices.Index(scenes, current); i >= 0 {
		st.next = i + 1
	}
}

func (g *TestGame) Update(deltaTime float64) error {
	camera := g.state().camera
	if camera == nil {
		return nil
	}
	step := moveSpeed * float32(deltaTime)
	turn := turnSpeed * float32(deltaTime)
	moves := []struct {
		key  core.KeyCode
		move func(float32)
	}{
		{core.KEY_W, camera.MoveForward},
		{core.KEY_S, camera.MoveBackward},
		{core.KEY_A, camera.MoveLeft},
		{core.KEY_D, camera.MoveRight},
		{core.KEY_E, camera.MoveUp},
		{core.KEY_Q, camera.MoveDown},
	}
	for _, m := range moves {
		if core.InputIsKeyDown(m.key) {
			m.move(step)
		}
	}
	if core.InputIsKeyDown(core.KEY_LEFT) {
		camera.Yaw(turn)
	}
	if core.InputIsKeyDown(core.KEY_RIGHT) {
		camera.Yaw(-turn)
	}
	if core.InputIsKeyDown(core.KEY_UP) {
		camera.Pitch(turn)
	}
	if core.InputIsKeyDown(core.KEY_DOWN) {
		camera.Pitch(-turn)
	}
	return nil
}

func (g *TestGame) OnKey(key core.KeyCode) error {
	st := g.state()
	if len(st.scenes) == 0 {
		return nil
	}
	var stream func(string) error
	switch key {
	case core.KEY_N:
		stream = st.streamer.Load
	case core.KEY_SPACE:
		stream = st.streamer.Append
	default:
		return nil
	}
	path := st.scenes[st.next%len(st.scenes)]
	st.next = (st.next + 1) % len(st.scenes)
	core.LogInfo("testbed: streaming %q", path)
	return stream(path)
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed shut down")
	return nil
}

// listScenes returns every scene file under dir in lexical order.
func listScenes(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	var scenes []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && slices.Contains(sceneExtensions, strings.ToLower(filepath.Ext(path))) {
			scenes = append(scenes, path)
		}
		return nil
	})
	return scenes, err
}
