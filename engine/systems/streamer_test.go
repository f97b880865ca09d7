package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestStreamerRetriesWhileBusy(t *testing.T) {
	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoMaterial)}})
	f.loader.add("b.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("b", metadata.NoMaterial)}})
	gate := f.loader.gate("a.gltf")

	ss := NewSceneStreamer(f.scenes, 4)
	require.NoError(t, ss.Load("a.gltf"))
	require.NoError(t, ss.Append("b.gltf"))

	require.NoError(t, ss.Update())
	assert.Equal(t, 1, ss.Pending())
	// a is still decoding, b must wait
	require.NoError(t, ss.Update())
	assert.Equal(t, 1, ss.Pending())

	close(gate)
	f.tickUntilIdle(t)
	require.NoError(t, ss.Update())
	assert.Zero(t, ss.Pending())
	f.tickUntilIdle(t)

	assert.Equal(t, "a.gltf", f.scenes.Path())
	assert.Equal(t, []string{"b.gltf"}, f.scenes.Appended())
	assert.Len(t, f.scenes.Meshes(), 2)
}

func TestStreamerQueueFull(t *testing.T) {
	f := newSceneFixture(t)
	ss := NewSceneStreamer(f.scenes, 1)

	require.NoError(t, ss.Load("a.gltf"))
	assert.Error(t, ss.Load("b.gltf"))
}

func TestStreamerHotReloadsResidentScene(t *testing.T) {
	require.True(t, core.EventInitialize())
	defer core.EventShutdown()

	f := newSceneFixture(t)
	f.loader.add("a.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("a", metadata.NoMaterial)}})
	f.loader.add("b.gltf", &metadata.SceneResource{Meshes: []*metadata.Mesh{triangle("b", metadata.NoMaterial)}})

	ss := NewSceneStreamer(f.scenes, 8)
	require.NoError(t, ss.Initialize(true))
	defer ss.Shutdown()

	require.NoError(t, f.scenes.LoadScene("a.gltf"))
	f.tickUntilIdle(t)
	require.NoError(t, f.scenes.AppendScene("b.gltf"))
	f.tickUntilIdle(t)
	generation := f.scenes.Generation()

	fire := func(path string) {
		ctx := core.EventContext{}
		ctx.Data.C[0] = path
		core.EventFire(core.EVENT_CODE_ASSET_CHANGED, nil, ctx)
	}

	fire("unrelated.gltf")
	assert.Zero(t, ss.Pending())

	fire("b.gltf")
	assert.Equal(t, 2, ss.Pending())

	for ss.Pending() > 0 {
		require.NoError(t, ss.Update())
		f.tickUntilIdle(t)
	}
	assert.Equal(t, generation+1, f.scenes.Generation())
	assert.Equal(t, []string{"b.gltf"}, f.scenes.Appended())
	assert.Len(t, f.scenes.Meshes(), 2)
}
