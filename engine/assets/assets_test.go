package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestLoadRejectsUnknownExtension(t *testing.T) {
	am := NewAssetManager(&AssetManagerConfig{DecodeWorkers: 1})

	_, err := am.Load("scene.fbx")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.True(t, am.Supported("scenes/Sponza.GLTF"))
	assert.True(t, am.Supported("scenes/room.glb"))
	assert.True(t, am.Supported("room.obj"))
	assert.True(t, am.Supported("scenes/showcase.toml"))
	assert.False(t, am.Supported("room.mtl"))
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tri.obj")
	require.NoError(t, os.WriteFile(path, []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), 0o644))
	am := NewAssetManager(&AssetManagerConfig{DecodeWorkers: 1})

	res, err := am.Load(path)
	require.NoError(t, err)
	require.Len(t, res.Meshes, 1)
	assert.Equal(t, path, res.FullPath)
	require.Len(t, am.Assets(), 1)
	assert.Equal(t, path, am.Assets()[0].Path)
}

func TestWatchFiresAssetChanged(t *testing.T) {
	require.True(t, core.EventInitialize())
	defer core.EventShutdown()

	changed := make(chan string, 16)
	listener := new(int)
	require.True(t, core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, listener, func(code core.SystemEventCode, sender, l interface{}, data core.EventContext) bool {
		changed <- data.Data.C[0]
		return true
	}))

	dir := t.TempDir()
	am := NewAssetManager(&AssetManagerConfig{DecodeWorkers: 1})
	require.NoError(t, am.Watch(dir))
	defer am.Shutdown()

	// not a scene file, ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	scene := filepath.Join(dir, "room.obj")
	require.NoError(t, os.WriteFile(scene, []byte("v 0 0 0\n"), 0o644))

	select {
	case got := <-changed:
		assert.Equal(t, scene, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no asset change event")
	}
}

func TestShutdownWithoutWatch(t *testing.T) {
	am := NewAssetManager(&AssetManagerConfig{})
	assert.NoError(t, am.Shutdown())
}
