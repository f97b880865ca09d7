package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[application]
name = "Sponza"
width = 1920

[log]
level = "debug"

[scene]
path = "scenes/sponza.gltf"
append = ["scenes/cube.gltf"]
hot_reload = true

[raytracing]
max_instance_count = 256
`))
	require.NoError(t, err)

	assert.Equal(t, "Sponza", cfg.Application.Name)
	assert.Equal(t, uint32(1920), cfg.Application.StartWidth)
	assert.Equal(t, uint32(720), cfg.Application.StartHeight)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"scenes/cube.gltf"}, cfg.Scene.Append)
	assert.True(t, cfg.Scene.HotReload)
	assert.Equal(t, uint32(256), cfg.RayTracing.MaxInstanceCount)
	assert.Equal(t, uint32(1), cfg.RayTracing.MinMaterialCount)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[scene]\npaht = \"typo.gltf\"\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Log.Level = "loud"
	cfg.RayTracing.MinMaterialCount = 0
	cfg.Scene.HotReload = true
	cfg.Scene.WatchDir = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log")
	assert.Contains(t, err.Error(), "min_material_count")
	assert.Contains(t, err.Error(), "hot_reload")
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scene]\npath = \"scenes/cube.gltf\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scenes", "cube.gltf"), cfg.Scene.Path)
	assert.Equal(t, filepath.Join(dir, "assets", "shaders"), cfg.RayTracing.ShaderDir)
}
