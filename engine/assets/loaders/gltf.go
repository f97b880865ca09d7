package loaders

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	attrPosition = "POSITION"
	attrNormal   = "NORMAL"
	attrTexcoord = "TEXCOORD_0"
)

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// GLTFLoader reads .gltf and .glb files. Every triangle primitive becomes one
// mesh, placed with the world transform of the node that references it.
type GLTFLoader struct {
	pool *TexturePool
}

func NewGLTFLoader(pool *TexturePool) *GLTFLoader {
	return &GLTFLoader{pool: pool}
}

func (gl *GLTFLoader) Extensions() []string {
	return []string{".gltf", ".glb"}
}

func (gl *GLTFLoader) Load(path string) (*metadata.SceneResource, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gltf %q: %w", path, err)
	}

	meshes, err := gl.readMeshes(doc)
	if err != nil {
		return nil, fmt.Errorf("gltf %q: %w", path, err)
	}

	formats := textureFormats(doc)
	materials := make([]metadata.Material, 0, len(doc.Materials))
	for _, m := range doc.Materials {
		materials = append(materials, convertMaterial(m))
	}

	jobs := make([]textureJob, 0, len(doc.Textures))
	for i, tex := range doc.Textures {
		idx, t := i, tex
		jobs = append(jobs, func() (*metadata.Texture, error) {
			return decodeGLTFTexture(doc, filepath.Dir(path), idx, t, formats[idx])
		})
	}
	textures, err := gl.pool.decodeAll(jobs)
	if err != nil {
		return nil, fmt.Errorf("gltf %q: %w", path, err)
	}

	core.LogDebug("gltf %q: %d meshes, %d materials, %d textures", path, len(meshes), len(materials), len(textures))
	return &metadata.SceneResource{
		FullPath:  path,
		Meshes:    meshes,
		Materials: materials,
		Textures:  textures,
	}, nil
}

func (gl *GLTFLoader) readMeshes(doc *gltf.Document) ([]*metadata.Mesh, error) {
	var roots []int
	switch {
	case len(doc.Scenes) == 0:
		// no scene graph, every mesh sits at the origin
		var meshes []*metadata.Mesh
		for i := range doc.Meshes {
			m, err := readMesh(doc, i, math.IdentityAffine3x4())
			if err != nil {
				return nil, err
			}
			meshes = append(meshes, m...)
		}
		return meshes, nil
	case doc.Scene != nil && *doc.Scene < len(doc.Scenes):
		roots = doc.Scenes[*doc.Scene].Nodes
	default:
		roots = doc.Scenes[0].Nodes
	}

	var meshes []*metadata.Mesh
	var visit func(idx int, parent *math.Transform, depth int) error
	visit = func(idx int, parent *math.Transform, depth int) error {
		if idx < 0 || idx >= len(doc.Nodes) {
			return fmt.Errorf("%w: node %d out of range", core.ErrInvalidMesh, idx)
		}
		if depth > len(doc.Nodes) {
			return fmt.Errorf("%w: node hierarchy has a cycle", core.ErrInvalidMesh)
		}
		node := doc.Nodes[idx]
		t := nodeTransform(node)
		t.Parent = parent

		if node.Mesh != nil {
			m, err := readMesh(doc, *node.Mesh, math.ToAffine3x4(t.GetWorld()))
			if err != nil {
				return err
			}
			meshes = append(meshes, m...)
		}
		for _, child := range node.Children {
			if err := visit(child, t, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := visit(root, nil, 0); err != nil {
			return nil, err
		}
	}
	return meshes, nil
}

func nodeTransform(node *gltf.Node) *math.Transform {
	if matrix := node.MatrixOrDefault(); matrix != identityMatrix {
		var local mgl32.Mat4
		for i, v := range matrix {
			local[i] = float32(v)
		}
		return math.TransformFromMatrix(local)
	}
	tr := node.TranslationOrDefault()
	rot := node.RotationOrDefault()
	sc := node.ScaleOrDefault()
	return math.TransformFromPositionRotationScale(
		mgl32.Vec3{float32(tr[0]), float32(tr[1]), float32(tr[2])},
		mgl32.Quat{W: float32(rot[3]), V: mgl32.Vec3{float32(rot[0]), float32(rot[1]), float32(rot[2])}},
		mgl32.Vec3{float32(sc[0]), float32(sc[1]), float32(sc[2])},
	)
}

func readMesh(doc *gltf.Document, idx int, transform math.Affine3x4) ([]*metadata.Mesh, error) {
	if idx < 0 || idx >= len(doc.Meshes) {
		return nil, fmt.Errorf("%w: mesh %d out of range", core.ErrInvalidMesh, idx)
	}
	src := doc.Meshes[idx]
	meshes := make([]*metadata.Mesh, 0, len(src.Primitives))
	for p, prim := range src.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			core.LogWarn("mesh %q primitive %d: mode %d skipped, only triangle lists are traced", src.Name, p, prim.Mode)
			continue
		}
		mesh, err := readPrimitive(doc, prim)
		if err != nil {
			return nil, fmt.Errorf("mesh %q primitive %d: %w", src.Name, p, err)
		}
		mesh.Name = src.Name
		if len(src.Primitives) > 1 {
			mesh.Name = fmt.Sprintf("%s.%d", src.Name, p)
		}
		mesh.Transform = transform
		meshes = append(meshes, mesh)
	}
	return meshes, nil
}

func readPrimitive(doc *gltf.Document, prim *gltf.Primitive) (*metadata.Mesh, error) {
	posIdx, ok := prim.Attributes[attrPosition]
	if !ok {
		return nil, fmt.Errorf("%w: no %s attribute", core.ErrInvalidMesh, attrPosition)
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return nil, err
	}

	var normals [][3]float32
	if idx, ok := prim.Attributes[attrNormal]; ok {
		if normals, err = modeler.ReadNormal(doc, doc.Accessors[idx], nil); err != nil {
			return nil, err
		}
	}
	var texcoords [][2]float32
	if idx, ok := prim.Attributes[attrTexcoord]; ok {
		if texcoords, err = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil); err != nil {
			return nil, err
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil); err != nil {
			return nil, err
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	for _, i := range indices {
		if int(i) >= len(positions) {
			return nil, fmt.Errorf("%w: index %d out of %d vertices", core.ErrInvalidMesh, i, len(positions))
		}
	}

	vertices := make([]math.Vertex3D, len(positions))
	for i, p := range positions {
		vertices[i].Position = mgl32.Vec3(p)
		if i < len(normals) {
			vertices[i].Normal = mgl32.Vec3(normals[i])
		}
		if i < len(texcoords) {
			vertices[i].Texcoord = mgl32.Vec2(texcoords[i])
		}
	}

	material := metadata.NoMaterial
	if prim.Material != nil {
		material = int32(*prim.Material)
	}
	return &metadata.Mesh{
		Vertices:      vertices,
		Indices:       indices,
		MaterialIndex: material,
	}, nil
}

func convertMaterial(m *gltf.Material) metadata.Material {
	out := metadata.DefaultMaterial()
	if pbr := m.PBRMetallicRoughness; pbr != nil {
		bc := pbr.BaseColorFactorOrDefault()
		out.BaseColor = [4]float32{float32(bc[0]), float32(bc[1]), float32(bc[2]), float32(bc[3])}
		out.MetallicFactor = float32(pbr.MetallicFactorOrDefault())
		out.RoughnessFactor = float32(pbr.RoughnessFactorOrDefault())
		if pbr.BaseColorTexture != nil {
			out.BaseColorTexture = int32(pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			out.MetallicRoughnessTexture = int32(pbr.MetallicRoughnessTexture.Index)
		}
	}
	if m.NormalTexture != nil && m.NormalTexture.Index != nil {
		out.NormalTexture = int32(*m.NormalTexture.Index)
	}
	if m.OcclusionTexture != nil && m.OcclusionTexture.Index != nil {
		out.OcclusionTexture = int32(*m.OcclusionTexture.Index)
	}
	if m.EmissiveTexture != nil {
		out.EmissiveTexture = int32(m.EmissiveTexture.Index)
	}
	out.EmissiveColor = [3]float32{float32(m.EmissiveFactor[0]), float32(m.EmissiveFactor[1]), float32(m.EmissiveFactor[2])}
	return out
}

// textureFormats picks sRGB for textures sampled as colour and linear for
// everything else. Unreferenced textures default to sRGB.
func textureFormats(doc *gltf.Document) []metadata.TextureFormat {
	formats := make([]metadata.TextureFormat, len(doc.Textures))
	linear := func(idx int) {
		if idx >= 0 && idx < len(formats) {
			formats[idx] = metadata.TextureFormatRGBA8Unorm
		}
	}
	for _, m := range doc.Materials {
		if pbr := m.PBRMetallicRoughness; pbr != nil && pbr.MetallicRoughnessTexture != nil {
			linear(pbr.MetallicRoughnessTexture.Index)
		}
		if m.NormalTexture != nil && m.NormalTexture.Index != nil {
			linear(*m.NormalTexture.Index)
		}
		if m.OcclusionTexture != nil && m.OcclusionTexture.Index != nil {
			linear(*m.OcclusionTexture.Index)
		}
	}
	return formats
}

func decodeGLTFTexture(doc *gltf.Document, dir string, idx int, tex *gltf.Texture, format metadata.TextureFormat) (*metadata.Texture, error) {
	if tex.Source == nil || *tex.Source >= len(doc.Images) {
		return nil, fmt.Errorf("texture %d: %w: no image source", idx, core.ErrUnsupportedFormat)
	}
	img := doc.Images[*tex.Source]
	name := img.Name
	if name == "" {
		name = fmt.Sprintf("texture_%d", idx)
	}

	data, err := imageBytes(doc, dir, img)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	return DecodeTexture(name, bytes.NewReader(data), format)
}

func imageBytes(doc *gltf.Document, dir string, img *gltf.Image) ([]byte, error) {
	if img.BufferView != nil {
		if *img.BufferView >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", *img.BufferView)
		}
		bv := doc.BufferViews[*img.BufferView]
		if bv.Buffer >= len(doc.Buffers) {
			return nil, fmt.Errorf("buffer %d out of range", bv.Buffer)
		}
		data := doc.Buffers[bv.Buffer].Data
		end := bv.ByteOffset + bv.ByteLength
		if end > len(data) {
			return nil, fmt.Errorf("buffer view %d exceeds buffer %d", *img.BufferView, bv.Buffer)
		}
		return data[bv.ByteOffset:end], nil
	}
	if rest, ok := strings.CutPrefix(img.URI, "data:"); ok {
		_, payload, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, fmt.Errorf("%w: only base64 data URIs are supported", core.ErrUnsupportedFormat)
		}
		return base64.StdEncoding.DecodeString(payload)
	}
	if img.URI == "" {
		return nil, fmt.Errorf("%w: image has neither uri nor buffer view", core.ErrUnsupportedFormat)
	}
	return os.ReadFile(filepath.Join(dir, filepath.FromSlash(img.URI)))
}
