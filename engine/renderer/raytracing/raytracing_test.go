package raytracing

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/fakegpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triangleMesh(name string, triangles int, material int32) *metadata.Mesh {
	m := &metadata.Mesh{
		Name:          name,
		Transform:     math.IdentityAffine3x4(),
		MaterialIndex: material,
	}
	for i := 0; i < triangles; i++ {
		base := uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices,
			math.Vertex3D{Position: mgl32.Vec3{0, 0, float32(i)}},
			math.Vertex3D{Position: mgl32.Vec3{1, 0, float32(i)}},
			math.Vertex3D{Position: mgl32.Vec3{0, 1, float32(i)}},
		)
		m.Indices = append(m.Indices, base, base+1, base+2)
	}
	return m
}

func meshes(n int) []*metadata.Mesh {
	out := make([]*metadata.Mesh, n)
	for i := range out {
		out[i] = triangleMesh(fmt.Sprintf("mesh-%d", i), 1, int32(i))
	}
	return out
}

type fixture struct {
	device  *fakegpu.Device
	set     *fakegpu.DescriptorSet
	diag    *diagnostics.Service
	builder *Builder
	sync    *DescriptorSync
}

func newFixture(t *testing.T, props metadata.DeviceProperties) *fixture {
	t.Helper()
	device := fakegpu.NewDevice(props)
	diag := diagnostics.New(8)
	require.NoError(t, diag.Initialize())
	t.Cleanup(func() { _ = diag.Shutdown() })
	set := fakegpu.NewDescriptorSet(device)
	return &fixture{
		device:  device,
		set:     set,
		diag:    diag,
		builder: NewBuilder(device, diag),
		sync:    NewDescriptorSync(set),
	}
}

func indexOf(events []fakegpu.Event, match func(fakegpu.Event) bool) int {
	for i, e := range events {
		if match(e) {
			return i
		}
	}
	return -1
}

func TestBuildReferencesPostBuildAddresses(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(meshes(3), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()

	records := scene.TLAS.Records()
	require.Len(t, records, 3)
	for i, rec := range records {
		addr, err := scene.BLASes[i].DeviceAddress()
		require.NoError(t, err)
		assert.Equal(t, addr, rec.Reference)
		assert.Equal(t, uint32(i), rec.CustomIndex)
		assert.Equal(t, uint8(0xFF), rec.Mask)
	}

	assert.Equal(t, 1, f.device.Submissions())
	assert.Equal(t, TopLevelBuilt, scene.TLAS.State())
	// geometry(3) + description + result per mesh, instances + descriptions + result for the tlas
	assert.Equal(t, 3*5+3, f.device.LiveBuffers())
	assert.Equal(t, 4, f.device.LiveStructures())
	assert.Empty(t, f.device.Violations())
	assert.Len(t, f.diag.LiveStructures(), 4)
}

func TestBuildClampsInstanceCount(t *testing.T) {
	props := fakegpu.DefaultProperties()
	props.MaxInstanceCount = 2
	f := newFixture(t, props)

	scene, err := f.builder.Build(meshes(5), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()

	assert.Len(t, scene.TLAS.Records(), 2)
	builds := f.device.Builds()
	last := builds[len(builds)-1]
	assert.Equal(t, uint32(2), last.Info.Geometry().PrimitiveCount())
}

func TestAppendStopsAtInstanceLimit(t *testing.T) {
	props := fakegpu.DefaultProperties()
	props.MaxInstanceCount = 2
	f := newFixture(t, props)

	scene, err := f.builder.Build(meshes(1), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()
	require.NoError(t, f.sync.Retarget(scene.TLAS, SceneBindings{}))

	added, err := f.builder.Append(scene.TLAS, meshes(3))
	require.NoError(t, err)
	defer destroyAll(added)
	require.NoError(t, f.sync.Retarget(scene.TLAS, SceneBindings{}))
	assert.Len(t, scene.TLAS.Records(), 2)

	builds := len(f.device.Builds())
	more, err := f.builder.Append(scene.TLAS, meshes(1))
	require.NoError(t, err)
	defer destroyAll(more)
	assert.Len(t, scene.TLAS.Records(), 2)
	// only the new bottom level structure is built
	assert.Len(t, f.device.Builds(), builds+1)
	assert.Equal(t, TopLevelBuilt, scene.TLAS.State())
	assert.Empty(t, f.device.Violations())
}

func TestBuildAppliesMeshTransformOnce(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	mesh := triangleMesh("moved", 1, 0)
	mesh.Transform = math.ToAffine3x4(mgl32.Translate3D(5, 0, 0))
	placements := []metadata.Placement{
		{Mesh: 0, Transform: math.IdentityAffine3x4(), Mask: 0xff},
		{Mesh: 0, Transform: math.ToAffine3x4(mgl32.Translate3D(0, 0, 2)), Mask: 0xff},
	}
	scene, err := f.builder.Build([]*metadata.Mesh{mesh}, placements, 1)
	require.NoError(t, err)
	defer scene.Destroy()

	records := scene.TLAS.Records()
	require.Len(t, records, 2)
	assert.Equal(t, mesh.Transform, records[0].Transform)
	assert.InDelta(t, 5, records[1].Transform[3], 1e-6)
	assert.InDelta(t, 0, records[1].Transform[7], 1e-6)
	assert.InDelta(t, 2, records[1].Transform[11], 1e-6)

	// geometry stays in object space so the instance carries the only transform
	for _, e := range f.device.Events() {
		if e.Kind == fakegpu.EventCreateBuffer {
			assert.False(t, strings.HasSuffix(e.Name, "/transform"), e.Name)
		}
	}
}

func TestBuildClampsPrimitiveCount(t *testing.T) {
	props := fakegpu.DefaultProperties()
	props.MaxPrimitiveCount = 1
	f := newFixture(t, props)

	scene, err := f.builder.Build([]*metadata.Mesh{triangleMesh("big", 4, 0)}, nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()

	assert.Equal(t, uint32(1), scene.BLASes[0].Triangles())
	tri, ok := f.device.Builds()[0].Info.Geometry().(metadata.TrianglesData)
	require.True(t, ok)
	assert.Equal(t, uint32(1), tri.Triangles)
	assert.True(t, tri.Opaque)
}

func TestBuildWithPlacements(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	moved := math.ToAffine3x4(mgl32.Translate3D(4, 0, 0))
	scene, err := f.builder.Build(meshes(2), []metadata.Placement{
		{Mesh: 1, Transform: moved, Mask: 0x0F, SBTOffset: 1},
		{Mesh: 1, Transform: math.IdentityAffine3x4(), Mask: 0xFF},
	}, 1)
	require.NoError(t, err)
	defer scene.Destroy()

	records := scene.TLAS.Records()
	require.Len(t, records, 2)
	assert.Equal(t, moved, records[0].Transform)
	assert.Equal(t, uint32(1), records[0].SBTOffset)
	assert.Equal(t, records[0].Reference, records[1].Reference)

	_, err = f.builder.Build(meshes(1), []metadata.Placement{{Mesh: 3}}, 2)
	assert.ErrorIs(t, err, core.ErrInvalidMesh)
}

func TestEmptySceneBuildsEmptyTopLevel(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(nil, nil, 0)
	require.NoError(t, err)
	defer scene.Destroy()

	assert.Equal(t, TopLevelBuilt, scene.TLAS.State())
	assert.Zero(t, scene.TLAS.InstanceCount())
	_, err = scene.TLAS.DeviceAddress()
	assert.NoError(t, err)
}

func TestBottomLevelAddressRequiresBuild(t *testing.T) {
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	mesh := triangleMesh("lonely", 1, 0)
	gb, err := NewGeometryBuffer(device, mesh)
	require.NoError(t, err)
	blas, err := NewBottomLevelStructure(device, nil, gb, mesh)
	require.NoError(t, err)
	defer blas.Destroy()

	assert.False(t, blas.Built())
	_, err = blas.DeviceAddress()
	assert.ErrorIs(t, err, core.ErrNotBuilt)
}

func TestInvalidMeshIsRejected(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())
	_, err := f.builder.Build([]*metadata.Mesh{{Name: "empty"}}, nil, 1)
	assert.ErrorIs(t, err, core.ErrInvalidMesh)
	assert.Zero(t, f.device.LiveBuffers())
}

func TestUpdateAppendsOnceAndIsIdempotent(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(meshes(1), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()
	require.NoError(t, f.sync.Retarget(scene.TLAS, SceneBindings{}))

	added, err := f.builder.Append(scene.TLAS, meshes(2))
	require.NoError(t, err)
	defer destroyAll(added)
	assert.Equal(t, TopLevelBuilding, scene.TLAS.State())
	require.Len(t, scene.TLAS.Records(), 3)
	builds := f.device.Builds()
	last := builds[len(builds)-1].Info
	assert.Equal(t, metadata.AccelerationStructureTypeTopLevel, last.Type())
	assert.Equal(t, metadata.BuildModeUpdate, last.Mode())
	assert.False(t, last.PreferFastTrace())

	submissions := f.device.Submissions()
	require.NoError(t, scene.TLAS.Update(added))
	require.NoError(t, scene.TLAS.Update(added))
	assert.Len(t, scene.TLAS.Records(), 3)
	assert.Equal(t, submissions, f.device.Submissions())

	first, err := scene.BLASes[0].DeviceAddress()
	require.NoError(t, err)
	assert.Equal(t, first, scene.TLAS.Records()[0].Reference)
	assert.Empty(t, f.device.Violations())
}

func TestTopLevelStateMachine(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(meshes(2), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()
	tlas := scene.TLAS
	assert.Equal(t, TopLevelBuilt, tlas.State())
	require.NoError(t, f.sync.Retarget(tlas, SceneBindings{}))
	bound, err := tlas.DeviceAddress()
	require.NoError(t, err)

	require.NoError(t, tlas.Build([]Instance{DefaultInstance(scene.BLASes[0])}))
	assert.Equal(t, TopLevelBuilding, tlas.State())
	still, err := tlas.DeviceAddress()
	require.NoError(t, err)
	assert.Equal(t, bound, still, "the bound handle survives until retarget")

	require.NoError(t, f.sync.Retarget(tlas, SceneBindings{}))
	assert.Equal(t, TopLevelBuilt, tlas.State())
	assert.Len(t, tlas.Records(), 1)
	now, _ := tlas.DeviceAddress()
	assert.NotEqual(t, bound, now)
	assert.Equal(t, now, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	assert.Empty(t, f.device.Violations())
}

func TestDescriptorSyncWritesBeforeDestroy(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	first, err := f.builder.Build(meshes(2), nil, 1)
	require.NoError(t, err)
	require.NoError(t, f.sync.Retarget(first.TLAS, SceneBindings{}))
	oldAddress, err := first.TLAS.DeviceAddress()
	require.NoError(t, err)

	second, err := f.builder.Build(meshes(1), nil, 2)
	require.NoError(t, err)
	defer second.Destroy()
	newAddress, err := second.TLAS.DeviceAddress()
	require.NoError(t, err)

	retired := []Retirable{first.TLAS}
	for _, b := range first.BLASes {
		retired = append(retired, b)
	}
	require.NoError(t, f.sync.Retarget(second.TLAS, SceneBindings{}, retired...))

	events := f.device.Events()
	write := indexOf(events, func(e fakegpu.Event) bool {
		return e.Kind == fakegpu.EventWriteStructure && e.Address == newAddress
	})
	destroy := indexOf(events, func(e fakegpu.Event) bool {
		return e.Kind == fakegpu.EventDestroyStruct && e.Address == oldAddress
	})
	require.NotEqual(t, -1, write)
	require.NotEqual(t, -1, destroy)
	assert.Less(t, write, destroy)
	assert.Equal(t, newAddress, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	assert.Equal(t, 2, f.device.LiveStructures())
	assert.Empty(t, f.device.Violations())
}

func TestDescriptorSyncKeepsOldOnWriteFailure(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(meshes(1), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()
	require.NoError(t, f.sync.Retarget(scene.TLAS, SceneBindings{}))

	require.NoError(t, scene.TLAS.Build([]Instance{DefaultInstance(scene.BLASes[0])}))
	materials, err := f.device.CreateBuffer("materials", 64, metadata.BufferUsageStorage, metadata.MemoryUsageCPUToGPU)
	require.NoError(t, err)
	materials.Destroy()

	live, err := scene.TLAS.DeviceAddress()
	require.NoError(t, err)
	err = f.sync.Retarget(scene.TLAS, SceneBindings{Materials: materials})
	assert.Error(t, err)
	assert.Equal(t, TopLevelBuilding, scene.TLAS.State())
	assert.Equal(t, live, f.set.BoundStructure(renderer.BindingTopLevelStructure))

	scene.TLAS.DiscardUnbound()
	assert.Equal(t, TopLevelBuilt, scene.TLAS.State())
	assert.Equal(t, live, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	assert.False(t, f.set.BoundStructureDestroyed(renderer.BindingTopLevelStructure))
}

func TestFailedAppendRetargetKeepsLiveStructureBound(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())

	scene, err := f.builder.Build(meshes(1), nil, 1)
	require.NoError(t, err)
	defer scene.Destroy()
	materials, err := f.device.CreateBuffer("materials", 64, metadata.BufferUsageStorage, metadata.MemoryUsageCPUToGPU)
	require.NoError(t, err)
	defer materials.Destroy()
	require.NoError(t, f.sync.Retarget(scene.TLAS, SceneBindings{Materials: materials}))
	live, err := scene.TLAS.DeviceAddress()
	require.NoError(t, err)
	descriptions := f.set.BoundBuffer(renderer.BindingInstanceDescriptions)

	added, err := f.builder.Append(scene.TLAS, meshes(1))
	require.NoError(t, err)
	stale, err := f.device.CreateBuffer("materials-next", 64, metadata.BufferUsageStorage, metadata.MemoryUsageCPUToGPU)
	require.NoError(t, err)
	stale.Destroy()

	err = f.sync.Retarget(scene.TLAS, SceneBindings{Materials: stale})
	require.Error(t, err)

	// what the scene manager does when an append cannot be bound
	scene.TLAS.DiscardUnbound()
	destroyAll(added)

	assert.Equal(t, live, f.set.BoundStructure(renderer.BindingTopLevelStructure))
	assert.False(t, f.set.BoundStructureDestroyed(renderer.BindingTopLevelStructure))
	assert.Same(t, descriptions, f.set.BoundBuffer(renderer.BindingInstanceDescriptions))
	assert.Same(t, materials.(*fakegpu.Buffer), f.set.BoundBuffer(renderer.BindingMaterials))
	assert.Len(t, scene.TLAS.Records(), 1)
}

func TestSubmissionFailureIsRecorded(t *testing.T) {
	f := newFixture(t, fakegpu.DefaultProperties())
	f.device.SetFailSubmissions(true)

	_, err := f.builder.Build(meshes(2), nil, 1)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	assert.ErrorIs(t, err, fakegpu.ErrInjectedFailure)
	assert.Len(t, f.diag.Failures(), 1)
	assert.Zero(t, f.device.LiveBuffers())
	assert.Zero(t, f.device.LiveStructures())
}
