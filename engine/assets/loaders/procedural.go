package loaders

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var errNoShapes = errors.New("no shapes")

const (
	ShapePlane = "plane"
	ShapeCube  = "cube"
)

type proceduralMaterial struct {
	Name             string     `toml:"name"`
	BaseColor        [4]float32 `toml:"base_color"`
	Metallic         float32    `toml:"metallic"`
	Roughness        *float32   `toml:"roughness"`
	Emissive         [3]float32 `toml:"emissive"`
	BaseColorTexture string     `toml:"base_color_texture"`
}

type proceduralShape struct {
	Name     string     `toml:"name"`
	Kind     string     `toml:"kind"`
	Size     [3]float32 `toml:"size"`
	Segments [2]uint32  `toml:"segments"`
	Tile     [2]float32 `toml:"tile"`
	Material string     `toml:"material"`
	Position [3]float32 `toml:"position"`
	// Rotation holds XYZ euler angles in degrees.
	Rotation [3]float32  `toml:"rotation"`
	Scale    *[3]float32 `toml:"scale"`
}

type proceduralFile struct {
	Materials []proceduralMaterial `toml:"material"`
	Shapes    []proceduralShape    `toml:"shape"`
}

// ProceduralLoader builds scenes from a .toml description of generated
// planes and cubes, which is handy for test scenes without any art.
type ProceduralLoader struct {
	pool *TexturePool
}

func NewProceduralLoader(pool *TexturePool) *ProceduralLoader {
	return &ProceduralLoader{pool: pool}
}

func (pl *ProceduralLoader) Extensions() []string {
	return []string{".toml"}
}

func (pl *ProceduralLoader) Load(path string) (*metadata.SceneResource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("procedural %q: %w", path, err)
	}
	var file proceduralFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("procedural %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	materialIndex := make(map[string]int32, len(file.Materials))
	materials := make([]metadata.Material, 0, len(file.Materials))
	texturePaths := []string{}
	textureIndex := map[string]int32{}
	for _, m := range file.Materials {
		if m.Name == "" {
			return nil, fmt.Errorf("procedural %q: material without a name", path)
		}
		if _, ok := materialIndex[m.Name]; ok {
			return nil, fmt.Errorf("procedural %q: duplicate material '%s'", path, m.Name)
		}
		out := metadata.DefaultMaterial()
		if m.BaseColor != [4]float32{} {
			out.BaseColor = m.BaseColor
		}
		out.MetallicFactor = math.Clamp(m.Metallic, 0, 1)
		if m.Roughness != nil {
			out.RoughnessFactor = math.Clamp(*m.Roughness, 0, 1)
		}
		out.EmissiveColor = m.Emissive
		if m.BaseColorTexture != "" {
			texPath := filepath.Join(dir, m.BaseColorTexture)
			idx, ok := textureIndex[texPath]
			if !ok {
				idx = int32(len(texturePaths))
				textureIndex[texPath] = idx
				texturePaths = append(texturePaths, texPath)
			}
			out.BaseColorTexture = idx
		}
		materialIndex[m.Name] = int32(len(materials))
		materials = append(materials, out)
	}

	meshes := make([]*metadata.Mesh, 0, len(file.Shapes))
	for i, s := range file.Shapes {
		mesh, err := buildShape(s, materialIndex)
		if err != nil {
			return nil, fmt.Errorf("procedural %q: shape %d: %w", path, i, err)
		}
		meshes = append(meshes, mesh)
	}
	if len(meshes) == 0 {
		return nil, fmt.Errorf("procedural %q: %w", path, errNoShapes)
	}

	jobs := make([]textureJob, len(texturePaths))
	for i := range texturePaths {
		file := texturePaths[i]
		jobs[i] = func() (*metadata.Texture, error) {
			return DecodeTextureFile(file, metadata.TextureFormatRGBA8SRGB)
		}
	}
	textures, err := pl.pool.decodeAll(jobs)
	if err != nil {
		return nil, fmt.Errorf("procedural %q: %w", path, err)
	}

	core.LogDebug("procedural %q: %d meshes, %d materials, %d textures", path, len(meshes), len(materials), len(textures))
	return &metadata.SceneResource{
		FullPath:  path,
		Meshes:    meshes,
		Materials: materials,
		Textures:  textures,
	}, nil
}

func buildShape(s proceduralShape, materialIndex map[string]int32) (*metadata.Mesh, error) {
	tileX, tileY := s.Tile[0], s.Tile[1]
	var (
		vertices []math.Vertex3D
		indices  []uint32
	)
	switch s.Kind {
	case ShapePlane:
		vertices, indices = GeneratePlane(s.Size[0], s.Size[2], s.Segments[0], s.Segments[1], tileX, tileY)
	case ShapeCube:
		vertices, indices = GenerateCube(s.Size[0], s.Size[1], s.Size[2], tileX, tileY)
	default:
		return nil, fmt.Errorf("unknown kind '%s'", s.Kind)
	}

	material := metadata.NoMaterial
	if s.Material != "" {
		idx, ok := materialIndex[s.Material]
		if !ok {
			return nil, fmt.Errorf("unknown material '%s'", s.Material)
		}
		material = idx
	}

	scale := mgl32.Vec3{1, 1, 1}
	if s.Scale != nil {
		scale = mgl32.Vec3(*s.Scale)
	}
	rotation := mgl32.AnglesToQuat(
		mgl32.DegToRad(s.Rotation[0]),
		mgl32.DegToRad(s.Rotation[1]),
		mgl32.DegToRad(s.Rotation[2]),
		mgl32.XYZ,
	)
	world := math.TransformFromPositionRotationScale(mgl32.Vec3(s.Position), rotation, scale).GetWorld()

	name := s.Name
	if name == "" {
		name = s.Kind
	}
	return &metadata.Mesh{
		Name:          name,
		Vertices:      vertices,
		Indices:       indices,
		Transform:     math.ToAffine3x4(world),
		MaterialIndex: material,
	}, nil
}
