package loaders

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestGeneratePlaneFacesUp(t *testing.T) {
	vertices, indices := GeneratePlane(4, 2, 2, 1, 1, 1)
	require.Len(t, vertices, 8)
	require.Len(t, indices, 12)
	for _, v := range vertices {
		assert.Equal(t, mgl32.Vec3{0, 1, 0}, v.Normal)
		assert.Zero(t, v.Position.Y())
		assert.InDelta(t, 0, v.Position.X(), 2)
		assert.InDelta(t, 0, v.Position.Z(), 1)
	}
	for _, idx := range indices {
		assert.Less(t, idx, uint32(len(vertices)))
	}
	// counter clockwise seen from above
	a, b, c := vertices[indices[0]].Position, vertices[indices[1]].Position, vertices[indices[2]].Position
	n := b.Sub(a).Cross(c.Sub(a))
	assert.Positive(t, n.Y())
}

func TestGeneratePlaneDefaultsInvalidInput(t *testing.T) {
	vertices, indices := GeneratePlane(0, -1, 0, 0, 0, 0)
	assert.Len(t, vertices, 4)
	assert.Len(t, indices, 6)
}

func TestGenerateCubeNormalsPointOutward(t *testing.T) {
	vertices, indices := GenerateCube(2, 2, 2, 1, 1)
	require.Len(t, vertices, 24)
	require.Len(t, indices, 36)
	for _, v := range vertices {
		assert.InDelta(t, 1, v.Position.Dot(v.Normal), 1e-6)
	}
	for tri := 0; tri < len(indices); tri += 3 {
		a := vertices[indices[tri]]
		b := vertices[indices[tri+1]].Position
		c := vertices[indices[tri+2]].Position
		n := b.Sub(a.Position).Cross(c.Sub(a.Position))
		assert.Positive(t, n.Dot(a.Normal), "triangle %d winds inward", tri/3)
	}
}

func writeProcedural(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "room.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestProceduralLoaderBuildsShapes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checker.png"), encodePNG(t, 2, 2, color.RGBA{0, 255, 0, 255}), 0o644))
	path := writeProcedural(t, dir, `
[[material]]
name = "floor"
base_color = [0.8, 0.8, 0.8, 1.0]
roughness = 0.5
base_color_texture = "checker.png"

[[material]]
name = "lamp"
emissive = [4.0, 4.0, 4.0]

[[shape]]
name = "ground"
kind = "plane"
size = [10.0, 0.0, 10.0]
segments = [2, 2]
tile = [4.0, 4.0]
material = "floor"

[[shape]]
kind = "cube"
size = [1.0, 1.0, 1.0]
material = "lamp"
position = [0.0, 2.0, 0.0]
rotation = [0.0, 90.0, 0.0]
`)

	scene, err := NewProceduralLoader(NewTexturePool(2)).Load(path)
	require.NoError(t, err)
	require.Len(t, scene.Meshes, 2)
	require.Len(t, scene.Materials, 2)
	require.Len(t, scene.Textures, 1)

	floor := scene.Materials[0]
	assert.Equal(t, int32(0), floor.BaseColorTexture)
	assert.InDelta(t, 0.5, floor.RoughnessFactor, 1e-6)
	lamp := scene.Materials[1]
	assert.Equal(t, metadata.NoTexture, lamp.BaseColorTexture)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, lamp.BaseColor)
	assert.Equal(t, [3]float32{4, 4, 4}, lamp.EmissiveColor)

	ground := scene.Meshes[0]
	assert.Equal(t, "ground", ground.Name)
	assert.Len(t, ground.Vertices, 16)
	assert.Equal(t, int32(0), ground.MaterialIndex)

	cube := scene.Meshes[1]
	assert.Equal(t, "cube", cube.Name)
	assert.Equal(t, int32(1), cube.MaterialIndex)
	origin := cube.Transform.Mat4().Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	assert.True(t, origin.ApproxEqual(mgl32.Vec3{0, 2, 0}), "origin %v", origin)
}

func TestProceduralLoaderRejectsBadInput(t *testing.T) {
	loader := NewProceduralLoader(NewTexturePool(1))
	cases := map[string]string{
		"unknown field":    "[[shape]]\nkind = \"plane\"\ncolour = 1\n",
		"unknown kind":     "[[shape]]\nkind = \"torus\"\n",
		"unknown material": "[[shape]]\nkind = \"cube\"\nmaterial = \"gold\"\n",
		"no shapes":        "[[material]]\nname = \"gold\"\n",
		"duplicate":        "[[material]]\nname = \"a\"\n[[material]]\nname = \"a\"\n[[shape]]\nkind = \"cube\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeProcedural(t, t.TempDir(), doc)
			_, err := loader.Load(path)
			assert.Error(t, err)
		})
	}
}
