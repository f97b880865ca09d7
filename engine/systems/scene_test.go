package systems

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/fakegpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLoader serves canned scenes by path. Paths listed in gates block until
// the gate is closed.
type stubLoader struct {
	mu     sync.Mutex
	scenes map[string]*metadata.SceneResource
	gates  map[string]chan struct{}
}

func newStubLoader() *stubLoader {
	return &stubLoader{
		scenes: make(map[string]*metadata.SceneResource),
		gates:  make(map[string]chan struct{}),
	}
}

func (l *stubLoader) add(path string, res *metadata.SceneResource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res.FullPath = path
	l.scenes[path] = res
}

func (l *stubLoader) gate(path string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := make(chan struct{})
	l.gates[path] = g
	return g
}

func (l *stubLoader) Load(path string) (*metadata.SceneResource, error) {
	l.mu.Lock()
	g := l.gates[path]
	res, ok := l.scenes[path]
	l.mu.Unlock()
	if g != nil {
		<-g
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, core.ErrUnsupportedFormat)
	}
	return res, nil
}

func triangle(name string, material int32) *metadata.Mesh {
	return &metadata.Mesh{
		Name: name,
		Vertices: []math.Vertex3D{
			{Position: mgl32.Vec3{0, 0, 0}},
			{Position: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{0, 1, 0}},
		},
		Indices:       []uint32{0, 1, 2},
		Transform:     math.IdentityAffine3x4(),
		MaterialIndex: material,
	}
}

func texture(name string) *metadata.Texture {
	return &metadata.Texture{Name: name, Width: 2, Height: 2, Pixels: make([]byte, 16)}
}

func materialsWithTexture(n int) []metadata.Material {
	out := make([]metadata.Material, n)
	for i := range out {
		out[i] = metadata.DefaultMaterial()
		out[i].BaseColorTexture = 0
		out[i].MetallicFactor = float32(i)
	}
	return out
}

type sceneFixture struct {
	device *fakegpu.Device
	set    *fakegpu.DescriptorSet
	loader *stubLoader
	jobs   *JobSystem
	scenes *SceneManager
}

func newSceneFixture(t *testing.T) *sceneFixture {
	t.Helper()
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	set := fakegpu.NewDescriptorSet(device)
	diag := diagnostics.New(4)
	require.NoError(t, diag.Initialize())
	jobs, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	loader := newStubLoader()

	sm, err := NewSceneManager(&SceneManagerConfig{MaxTextureCount: 16}, device, set, loader, jobs, diag)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	t.Cleanup(func() {
		_ = sm.Shutdown()
		_ = jobs.Shutdown()
		_ = diag.Shutdown()
	})
	return &sceneFixture{device: device, set: set, loader: loader, jobs: jobs, scenes: sm}
}

// tickUntilIdle runs render ticks until the outstanding load was consumed.
func (f *sceneFixture) tickUntilIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.scenes.Loading() {
		require.NoError(t, f.scenes.RenderTick())
		if time.Now().After(deadline) {
			t.Fatal("scene load did not complete")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInitializeBindsEmptyScene(t *testing.T) {
	f := newSceneFixture(t)

	assert.Zero(t, f.scenes.Generation())
	textures := f.set.BoundImages(renderer.BindingTextures)
	require.Len(t, textures, 1)
	assert.Equal(t, uint32(1), textures[0].Width())
	assert.NotZero(t, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	require.NotNil(t, f.set.BoundBuffer(renderer.BindingMaterials))
	assert.GreaterOrEqual(t, f.set.BoundBuffer(renderer.BindingMaterials).Size(), uint64(metadata.MaterialSize))
}

func TestLoadSingleTriangleScene(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("cube.gltf", &metadata.SceneResource{
		Meshes: []*metadata.Mesh{triangle("cube", metadata.NoTexture)},
	})

	require.NoError(t, f.scenes.LoadScene("cube.gltf"))
	f.tickUntilIdle(t)

	assert.Equal(t, uint64(1), f.scenes.Generation())
	assert.Equal(t, "cube.gltf", f.scenes.Path())
	structures := f.scenes.Structures()
	require.Len(t, structures.BLASes, 1)
	assert.Equal(t, 1, structures.TLAS.InstanceCount())
	addr, err := structures.TLAS.DeviceAddress()
	require.NoError(t, err)
	assert.Equal(t, addr, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	assert.GreaterOrEqual(t, f.scenes.MaterialBuffer().Size(), uint64(metadata.MaterialSize))
	assert.Empty(t, f.device.Violations())
}

func TestSecondLoadIsRejectedWhileBusy(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoTexture)}})
	f.loader.add("b.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("b", metadata.NoTexture)}})
	gate := f.loader.gate("a.gltf")

	require.NoError(t, f.scenes.LoadScene("a.gltf"))
	err := f.scenes.LoadScene("b.gltf")
	assert.ErrorIs(t, err, core.ErrLoadInProgress)
	assert.ErrorIs(t, f.scenes.AppendScene("b.gltf"), core.ErrLoadInProgress)

	// the render loop keeps ticking without blocking while the load runs
	require.NoError(t, f.scenes.RenderTick())
	assert.Zero(t, f.scenes.Generation())

	close(gate)
	f.tickUntilIdle(t)
	assert.Equal(t, "a.gltf", f.scenes.Path())

	require.NoError(t, f.scenes.LoadScene("b.gltf"))
	f.tickUntilIdle(t)
	assert.Equal(t, "b.gltf", f.scenes.Path())
	assert.Equal(t, uint64(2), f.scenes.Generation())
}

func TestFailedLoadKeepsResidentScene(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("good.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("good", metadata.NoTexture)}})

	require.NoError(t, f.scenes.LoadScene("good.gltf"))
	f.tickUntilIdle(t)
	bound := f.set.BoundStructure(renderer.BindingTopLevelStructure)

	require.NoError(t, f.scenes.LoadScene("missing.gltf"))
	f.tickUntilIdle(t)

	assert.ErrorIs(t, f.scenes.LastLoadError(), core.ErrUnsupportedFormat)
	assert.Equal(t, uint64(1), f.scenes.Generation())
	assert.Equal(t, "good.gltf", f.scenes.Path())
	assert.Equal(t, bound, f.set.BoundStructure(renderer.BindingTopLevelStructure))
}

func TestAppendOffsetsMaterialIndices(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{
		Meshes:    []*metadata.Mesh{triangle("a0", 0), triangle("a1", 1)},
		Materials: materialsWithTexture(2),
		Textures:  []*metadata.Texture{texture("a-albedo")},
	})
	f.loader.add("b.gltf", &metadata.SceneResource{
		Meshes:    []*metadata.Mesh{triangle("b0", 2), triangle("b1", 0), triangle("b2", metadata.NoTexture)},
		Materials: materialsWithTexture(3),
		Textures:  []*metadata.Texture{texture("b-albedo")},
	})

	require.NoError(t, f.scenes.LoadScene("a.gltf"))
	f.tickUntilIdle(t)
	require.NoError(t, f.scenes.AppendScene("b.gltf"))
	f.tickUntilIdle(t)

	meshes := f.scenes.Meshes()
	require.Len(t, meshes, 5)
	got := make([]int32, len(meshes))
	for i, m := range meshes {
		got[i] = m.MaterialIndex
	}
	assert.Equal(t, []int32{0, 1, 4, 2, metadata.NoTexture}, got)

	materials := f.scenes.Materials()
	require.Len(t, materials, 5)
	for i, m := range materials[:2] {
		assert.Equal(t, float32(i), m.MetallicFactor)
		assert.Equal(t, int32(1), m.BaseColorTexture)
	}
	for i, m := range materials[2:] {
		assert.Equal(t, float32(i), m.MetallicFactor)
		assert.Equal(t, int32(2), m.BaseColorTexture)
	}
	assert.Equal(t, uint64(5*metadata.MaterialSize), f.scenes.MaterialBuffer().Size())
	assert.Len(t, f.set.BoundImages(renderer.BindingTextures), 3)

	structures := f.scenes.Structures()
	assert.Equal(t, 5, structures.TLAS.InstanceCount())
	assert.Equal(t, raytracing.TopLevelBuilt, structures.TLAS.State())
	assert.Empty(t, f.device.Violations())
}

func TestFallbackTextureSurvivesSwaps(t *testing.T) {
	f := newSceneFixture(t)
	fallback := f.scenes.Textures()[metadata.FallbackTextureSlot].(*fakegpu.Image)
	f.loader.add("scene.gltf", &metadata.SceneResource{
		Meshes:    []*metadata.Mesh{triangle("m", 0)},
		Materials: materialsWithTexture(1),
		Textures:  []*metadata.Texture{texture("albedo"), texture("normal")},
	})

	var previous []renderer.Image
	for i := 0; i < 4; i++ {
		require.NoError(t, f.scenes.LoadScene("scene.gltf"))
		f.tickUntilIdle(t)

		bound := f.set.BoundImages(renderer.BindingTextures)
		require.Len(t, bound, 3)
		assert.Same(t, fallback, bound[0])
		assert.False(t, fallback.Destroyed())
		for _, img := range previous {
			assert.True(t, img.(*fakegpu.Image).Destroyed())
		}
		previous = f.scenes.Textures()[1:]
	}
	assert.Equal(t, uint64(4), f.scenes.Generation())
	// one fallback plus the two textures of the live scene
	assert.Equal(t, 3, f.device.LiveImages())
	assert.Empty(t, f.device.Violations())
}

func TestReplaceRetiresAfterRebind(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoTexture)}})
	f.loader.add("b.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("b", metadata.NoTexture)}})

	require.NoError(t, f.scenes.LoadScene("a.gltf"))
	f.tickUntilIdle(t)
	oldAddress := f.set.BoundStructure(renderer.BindingTopLevelStructure)
	f.device.ResetEvents()

	require.NoError(t, f.scenes.LoadScene("b.gltf"))
	f.tickUntilIdle(t)
	newAddress := f.set.BoundStructure(renderer.BindingTopLevelStructure)
	require.NotEqual(t, oldAddress, newAddress)

	write, destroy := -1, -1
	for i, e := range f.device.Events() {
		if e.Kind == fakegpu.EventWriteStructure && e.Address == newAddress && write == -1 {
			write = i
		}
		if e.Kind == fakegpu.EventDestroyStruct && e.Address == oldAddress {
			destroy = i
		}
	}
	require.NotEqual(t, -1, write)
	require.NotEqual(t, -1, destroy)
	assert.Less(t, write, destroy)
	// one blas and one tlas of the live scene
	assert.Equal(t, 2, f.device.LiveStructures())
}

func TestDeviceFailureDuringSwapIsReturned(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoTexture)}})
	f.device.SetFailSubmissions(true)

	require.NoError(t, f.scenes.LoadScene("a.gltf"))
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && f.scenes.Loading() && time.Now().Before(deadline) {
		err = f.scenes.RenderTick()
		time.Sleep(time.Millisecond)
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDeviceFailure))
	assert.Zero(t, f.scenes.Generation())
}
