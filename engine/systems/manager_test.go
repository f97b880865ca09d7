package systems

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/fakegpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	device  *fakegpu.Device
	set     *fakegpu.DescriptorSet
	frames  int
	last    metadata.FrameData
	drawErr error
	down    bool
}

func newFakeBackend() *fakeBackend {
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	return &fakeBackend{device: device, set: fakegpu.NewDescriptorSet(device)}
}

func (b *fakeBackend) Initialize(appName string, appWidth, appHeight uint32) error { return nil }
func (b *fakeBackend) Shutdown() error                                             { b.down = true; return nil }
func (b *fakeBackend) Device() renderer.Device                                     { return b.device }
func (b *fakeBackend) DescriptorSet() renderer.DescriptorSet                       { return b.set }

func (b *fakeBackend) DrawFrame(frame metadata.FrameData) error {
	if b.drawErr != nil {
		return b.drawErr
	}
	b.last = frame
	b.frames++
	return nil
}

type stubSource struct {
	*stubLoader
	watched string
}

func (s *stubSource) Watch(dir string) error { s.watched = dir; return nil }
func (s *stubSource) Shutdown() error        { return nil }

func newManagerFixture(t *testing.T, cfg *config.Config) (*SystemManager, *fakeBackend, *stubSource) {
	t.Helper()
	backend := newFakeBackend()
	source := &stubSource{stubLoader: newStubLoader()}
	source.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoTexture)}})
	source.add("b.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("b", metadata.NoTexture)}})

	sm, err := NewSystemManager(cfg, newRendererSystem("test", 64, 64, backend), source)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	return sm, backend, source
}

func runFramesUntil(t *testing.T, sm *SystemManager, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !done() {
		require.NoError(t, sm.Frame(0.016, 64, 64))
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSystemManagerStreamsConfiguredScenes(t *testing.T) {
	cfg := config.Default()
	cfg.RayTracing.MaxTextureCount = 16
	cfg.Scene.Path = "a.gltf"
	cfg.Scene.Append = []string{"b.gltf"}

	sm, backend, _ := newManagerFixture(t, cfg)
	assert.Equal(t, 2, sm.SceneStreamer.Pending())

	runFramesUntil(t, sm, func() bool {
		return len(sm.SceneManager.Appended()) == 1 && !sm.SceneManager.Loading()
	})
	assert.Equal(t, "a.gltf", sm.SceneManager.Path())
	assert.Equal(t, uint64(1), sm.SceneManager.Generation())
	assert.Equal(t, 2, sm.SceneManager.Structures().TLAS.InstanceCount())
	assert.Positive(t, backend.frames)
	assert.Equal(t, backend.frames, int(sm.RendererSystem.FrameNumber))

	require.NoError(t, sm.Shutdown())
	assert.True(t, backend.down)
	assert.Empty(t, backend.device.Violations())
	assert.Zero(t, backend.device.LiveStructures())
}

func TestSystemManagerReloadQueuesWholeScene(t *testing.T) {
	cfg := config.Default()
	cfg.RayTracing.MaxTextureCount = 16
	cfg.Scene.Path = "a.gltf"
	cfg.Scene.Append = []string{"b.gltf"}

	sm, _, _ := newManagerFixture(t, cfg)
	defer sm.Shutdown()
	runFramesUntil(t, sm, func() bool {
		return len(sm.SceneManager.Appended()) == 1 && !sm.SceneManager.Loading()
	})

	require.NoError(t, sm.Reload())
	assert.Equal(t, 2, sm.SceneStreamer.Pending())
	runFramesUntil(t, sm, func() bool {
		return sm.SceneManager.Generation() == 2 && sm.SceneStreamer.Pending() == 0 && !sm.SceneManager.Loading()
	})
	assert.Equal(t, []string{"b.gltf"}, sm.SceneManager.Appended())
}

func TestSystemManagerWatchesWhenHotReloading(t *testing.T) {
	require.True(t, core.EventInitialize())
	defer core.EventShutdown()

	cfg := config.Default()
	cfg.RayTracing.MaxTextureCount = 16
	cfg.Scene.HotReload = true
	cfg.Scene.WatchDir = "scenes"

	sm, _, source := newManagerFixture(t, cfg)
	defer sm.Shutdown()
	assert.Equal(t, "scenes", source.watched)
	assert.Zero(t, sm.SceneStreamer.Pending())
}

func TestSystemManagerTracesFromActiveCamera(t *testing.T) {
	sm, backend, _ := newManagerFixture(t, config.Default())
	defer sm.Shutdown()

	fly, err := sm.CameraSystem.Acquire("fly")
	require.NoError(t, err)
	fly.SetPosition(mgl32.Vec3{1, 2, 3})
	require.NoError(t, sm.CameraSystem.SetActive("fly"))

	require.NoError(t, sm.Frame(0.016, 64, 32))
	eye := backend.last.InverseView.Col(3).Vec3()
	assert.True(t, eye.ApproxEqual(mgl32.Vec3{1, 2, 3}), "eye %v", eye)
	assert.InDelta(t, 0.016, backend.last.DeltaTime, 1e-9)
	assert.False(t, backend.last.InverseProjection.ApproxEqual(mgl32.Ident4()))
}

func TestSystemManagerDrawFailureIsDeviceFailure(t *testing.T) {
	sm, backend, _ := newManagerFixture(t, config.Default())
	defer sm.Shutdown()

	backend.drawErr = errors.New("VK_ERROR_DEVICE_LOST")
	err := sm.Frame(0.016, 64, 64)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	require.Len(t, sm.Diagnostics().Failures(), 1)
	assert.Equal(t, "draw frame", sm.Diagnostics().Failures()[0].Operation)
}
