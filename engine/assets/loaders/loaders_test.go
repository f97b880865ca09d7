package loaders

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func triangleBuffer() []byte {
	var buf bytes.Buffer
	positions := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}
	_ = binary.Write(&buf, binary.LittleEndian, positions)
	_ = binary.Write(&buf, binary.LittleEndian, []uint16{0, 1, 2})
	return buf.Bytes()
}

func writeTriangleGLTF(t *testing.T, dir string, withMaterial bool) string {
	t.Helper()
	buffer := triangleBuffer()
	materials := ""
	if withMaterial {
		pixels := base64.StdEncoding.EncodeToString(encodePNG(t, 2, 2, color.RGBA{255, 0, 0, 255}))
		materials = fmt.Sprintf(`,
  "materials": [{"name": "red", "pbrMetallicRoughness": {"baseColorFactor": [1, 0, 0, 1], "metallicFactor": 0.5, "roughnessFactor": 0.25, "baseColorTexture": {"index": 0}}}],
  "textures": [{"source": 0}],
  "images": [{"name": "red.png", "uri": "data:image/png;base64,%s"}]`, pixels)
	}
	materialRef := ""
	if withMaterial {
		materialRef = `, "material": 0`
	}
	doc := fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [
    {"name": "root", "translation": [1, 2, 3], "children": [1]},
    {"name": "tri", "mesh": 0, "scale": [2, 2, 2]}
  ],
  "meshes": [{"name": "tri", "primitives": [{"attributes": {"POSITION": 0}, "indices": 1%s}]}],
  "buffers": [{"byteLength": %d, "uri": "data:application/octet-stream;base64,%s"}],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 36},
    {"buffer": 0, "byteOffset": 36, "byteLength": 6}
  ],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3", "min": [0, 0, 0], "max": [1, 1, 0]},
    {"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"}
  ]%s
}`, materialRef, len(buffer), base64.StdEncoding.EncodeToString(buffer), materials)

	path := filepath.Join(dir, "cube.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestGLTFSingleTriangleWithoutMaterials(t *testing.T) {
	path := writeTriangleGLTF(t, t.TempDir(), false)

	res, err := NewGLTFLoader(NewTexturePool(2)).Load(path)
	require.NoError(t, err)

	require.Len(t, res.Meshes, 1)
	mesh := res.Meshes[0]
	assert.Equal(t, "tri", mesh.Name)
	assert.Len(t, mesh.Vertices, 3)
	assert.Equal(t, []uint32{0, 1, 2}, mesh.Indices)
	assert.Equal(t, uint32(1), mesh.TriangleCount())
	assert.Equal(t, metadata.NoMaterial, mesh.MaterialIndex)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, mesh.Vertices[1].Position)
	assert.Empty(t, res.Materials)
	assert.Empty(t, res.Textures)
}

func TestGLTFNodeHierarchyTransform(t *testing.T) {
	path := writeTriangleGLTF(t, t.TempDir(), false)

	res, err := NewGLTFLoader(NewTexturePool(1)).Load(path)
	require.NoError(t, err)

	want := [12]float32{
		2, 0, 0, 1,
		0, 2, 0, 2,
		0, 0, 2, 3,
	}
	for i := range want {
		assert.InDelta(t, want[i], res.Meshes[0].Transform[i], 1e-6, "element %d", i)
	}
}

func TestGLTFMaterialsAndTextures(t *testing.T) {
	path := writeTriangleGLTF(t, t.TempDir(), true)

	res, err := NewGLTFLoader(NewTexturePool(2)).Load(path)
	require.NoError(t, err)

	require.Len(t, res.Materials, 1)
	m := res.Materials[0]
	assert.Equal(t, [4]float32{1, 0, 0, 1}, m.BaseColor)
	assert.InDelta(t, 0.5, m.MetallicFactor, 1e-6)
	assert.InDelta(t, 0.25, m.RoughnessFactor, 1e-6)
	assert.Equal(t, int32(0), m.BaseColorTexture)
	assert.Equal(t, metadata.NoTexture, m.NormalTexture)
	assert.Equal(t, int32(0), res.Meshes[0].MaterialIndex)

	require.Len(t, res.Textures, 1)
	tex := res.Textures[0]
	assert.Equal(t, "red.png", tex.Name)
	assert.Equal(t, uint32(2), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	assert.Equal(t, metadata.TextureFormatRGBA8SRGB, tex.Format)
	require.Len(t, tex.Pixels, 2*2*4)
	assert.Equal(t, []byte{255, 0, 0, 255}, tex.Pixels[:4])
}

func TestGLTFMissingFile(t *testing.T) {
	_, err := NewGLTFLoader(NewTexturePool(1)).Load(filepath.Join(t.TempDir(), "missing.gltf"))
	assert.Error(t, err)
}

const quadOBJ = `# quad and a triangle
mtllib scene.mtl
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
o quad
usemtl red
f 1/1/1 2/2/1 3/3/1 4/4/1
o tri
usemtl plain
f -4 -3 -2
`

const sceneMTL = `newmtl red
Kd 1 0 0
Ns 0
Pm 0.5
map_Kd -bm 1.0 red.png

newmtl plain
Kd 0.5 0.5 0.5
d 0.5
Pr 0.75
`

func writeOBJScene(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.obj"), []byte(quadOBJ), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.mtl"), []byte(sceneMTL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "red.png"), encodePNG(t, 4, 2, color.RGBA{255, 0, 0, 255}), 0o644))
	return filepath.Join(dir, "scene.obj")
}

func TestOBJFanTriangulationAndDedupe(t *testing.T) {
	res, err := NewOBJLoader(NewTexturePool(2)).Load(writeOBJScene(t))
	require.NoError(t, err)

	require.Len(t, res.Meshes, 2)
	quad := res.Meshes[0]
	assert.Equal(t, "quad", quad.Name)
	assert.Len(t, quad.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, quad.Indices)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, quad.Vertices[0].Normal)
	// flipped to a top left origin
	assert.Equal(t, mgl32.Vec2{1, 0}, quad.Vertices[2].Texcoord)

	tri := res.Meshes[1]
	assert.Equal(t, "tri", tri.Name)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, tri.Vertices[2].Position)
	assert.Equal(t, uint32(1), tri.TriangleCount())
}

func TestOBJMaterialLibrary(t *testing.T) {
	res, err := NewOBJLoader(NewTexturePool(2)).Load(writeOBJScene(t))
	require.NoError(t, err)

	require.Len(t, res.Materials, 2)
	red, plain := res.Materials[0], res.Materials[1]
	assert.Equal(t, int32(0), res.Meshes[0].MaterialIndex)
	assert.Equal(t, int32(1), res.Meshes[1].MaterialIndex)

	assert.Equal(t, [4]float32{1, 0, 0, 1}, red.BaseColor)
	assert.InDelta(t, 1.0, red.RoughnessFactor, 1e-6)
	assert.InDelta(t, 0.5, red.MetallicFactor, 1e-6)
	assert.Equal(t, int32(0), red.BaseColorTexture)

	assert.InDelta(t, 0.5, plain.BaseColor[3], 1e-6)
	assert.InDelta(t, 0.75, plain.RoughnessFactor, 1e-6)
	assert.Equal(t, metadata.NoTexture, plain.BaseColorTexture)

	require.Len(t, res.Textures, 1)
	assert.Equal(t, uint32(4), res.Textures[0].Width)
	assert.Equal(t, "red.png", res.Textures[0].Name)
}

func TestOBJRejectsOutOfRangeFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.obj")
	require.NoError(t, os.WriteFile(path, []byte("v 0 0 0\nv 1 0 0\nf 1 2 3\n"), 0o644))

	_, err := NewOBJLoader(NewTexturePool(1)).Load(path)
	assert.ErrorIs(t, err, core.ErrInvalidMesh)
}

func TestDecodeTextureRejectsGarbage(t *testing.T) {
	_, err := DecodeTexture("noise", bytes.NewReader([]byte("not an image")), metadata.TextureFormatRGBA8SRGB)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestTexturePoolKeepsOrderAndJoinsErrors(t *testing.T) {
	pool := NewTexturePool(3)
	jobs := make([]textureJob, 8)
	for i := range jobs {
		name := fmt.Sprintf("t%d", i)
		jobs[i] = func() (*metadata.Texture, error) {
			return &metadata.Texture{Name: name}, nil
		}
	}
	textures, err := pool.decodeAll(jobs)
	require.NoError(t, err)
	for i, tex := range textures {
		assert.Equal(t, fmt.Sprintf("t%d", i), tex.Name)
	}

	jobs[5] = func() (*metadata.Texture, error) { return nil, core.ErrUnsupportedFormat }
	_, err = pool.decodeAll(jobs)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}
