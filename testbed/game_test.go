package testbed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStreamer struct {
	loads   []string
	appends []string
}

func (r *recordingStreamer) Load(path string) error {
	r.loads = append(r.loads, path)
	return nil
}

func (r *recordingStreamer) Append(path string) error {
	r.appends = append(r.appends, path)
	return nil
}

func TestListScenesFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.glb", "a.gltf", "notes.txt", "sub/c.OBJ", "sub/c.mtl"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	scenes, err := listScenes(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.gltf"),
		filepath.Join(dir, "b.glb"),
		filepath.Join(dir, "sub/c.OBJ"),
	}, scenes)

	scenes, err = listScenes("")
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestOnKeyCyclesThePlaylist(t *testing.T) {
	g := NewTestGame(config.Default())
	rec := &recordingStreamer{}
	g.attach(rec, []string{"a.gltf", "b.gltf", "c.gltf"}, "b.gltf")

	require.NoError(t, g.OnKey(core.KEY_N))
	require.NoError(t, g.OnKey(core.KEY_SPACE))
	require.NoError(t, g.OnKey(core.KEY_N))
	require.NoError(t, g.OnKey(core.KEY_R))

	assert.Equal(t, []string{"c.gltf", "b.gltf"}, rec.loads)
	assert.Equal(t, []string{"a.gltf"}, rec.appends)
}

func TestOnKeyWithoutScenesDoesNothing(t *testing.T) {
	g := NewTestGame(config.Default())
	rec := &recordingStreamer{}
	g.attach(rec, nil, "")
	require.NoError(t, g.OnKey(core.KEY_N))
	assert.Empty(t, rec.loads)
}

func TestUpdateFliesTheCamera(t *testing.T) {
	require.True(t, core.EventInitialize())
	defer core.EventShutdown()
	require.NoError(t, core.InputInitialize())
	defer core.InputShutdown()

	g := NewTestGame(config.Default())
	camera := components.NewCamera()
	g.state().camera = camera

	core.InputProcessKey(core.KEY_W, true)
	require.NoError(t, g.Update(0.5))
	core.InputProcessKey(core.KEY_W, false)
	core.InputProcessKey(core.KEY_E, true)
	require.NoError(t, g.Update(0.5))

	pos := camera.GetPosition()
	assert.InDelta(t, -1.0, pos.Z(), 1e-5)
	assert.InDelta(t, 1.0, pos.Y(), 1e-5)
}
