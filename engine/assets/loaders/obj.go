package loaders

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// OBJLoader reads Wavefront .obj files and their .mtl libraries. Every
// object, group or material change starts a new mesh; polygons are fan
// triangulated.
type OBJLoader struct {
	pool *TexturePool
}

func NewOBJLoader(pool *TexturePool) *OBJLoader {
	return &OBJLoader{pool: pool}
}

func (ol *OBJLoader) Extensions() []string {
	return []string{".obj"}
}

type faceVert struct {
	position, texcoord, normal int
}

type objGroup struct {
	name     string
	material string
	vertices []math.Vertex3D
	indices  []uint32
	lookup   map[faceVert]uint32
}

type objParser struct {
	path      string
	positions []mgl32.Vec3
	texcoords []mgl32.Vec2
	normals   []mgl32.Vec3
	groups    []*objGroup
	current   *objGroup
	library   *mtlLibrary
}

func (ol *OBJLoader) Load(path string) (*metadata.SceneResource, error) {
	p := &objParser{path: path, library: newMTLLibrary()}
	if err := p.parse(); err != nil {
		return nil, fmt.Errorf("obj %q: %w", path, err)
	}

	// material table in library order, texture table in first use order
	materialIndex := make(map[string]int32, len(p.library.order))
	materials := make([]metadata.Material, 0, len(p.library.order))
	texturePaths := []string{}
	textureFormats := []metadata.TextureFormat{}
	textureIndex := map[string]int32{}
	resolve := func(file string, format metadata.TextureFormat) int32 {
		if file == "" {
			return metadata.NoTexture
		}
		if idx, ok := textureIndex[file]; ok {
			return idx
		}
		idx := int32(len(texturePaths))
		textureIndex[file] = idx
		texturePaths = append(texturePaths, file)
		textureFormats = append(textureFormats, format)
		return idx
	}
	for _, name := range p.library.order {
		m := p.library.materials[name]
		out := m.Material
		out.BaseColorTexture = resolve(m.baseColorMap, metadata.TextureFormatRGBA8SRGB)
		out.NormalTexture = resolve(m.normalMap, metadata.TextureFormatRGBA8Unorm)
		out.EmissiveTexture = resolve(m.emissiveMap, metadata.TextureFormatRGBA8SRGB)
		out.MetallicRoughnessTexture = resolve(m.roughnessMap, metadata.TextureFormatRGBA8Unorm)
		materialIndex[name] = int32(len(materials))
		materials = append(materials, out)
	}

	meshes := make([]*metadata.Mesh, 0, len(p.groups))
	for _, g := range p.groups {
		if len(g.indices) == 0 {
			continue
		}
		material := metadata.NoMaterial
		if g.material != "" {
			idx, ok := materialIndex[g.material]
			if !ok {
				core.LogWarn("obj %q: mesh %q uses unknown material '%s'", path, g.name, g.material)
			} else {
				material = idx
			}
		}
		meshes = append(meshes, &metadata.Mesh{
			Name:          g.name,
			Vertices:      g.vertices,
			Indices:       g.indices,
			Transform:     math.IdentityAffine3x4(),
			MaterialIndex: material,
		})
	}

	jobs := make([]textureJob, len(texturePaths))
	for i := range texturePaths {
		file, format := texturePaths[i], textureFormats[i]
		jobs[i] = func() (*metadata.Texture, error) {
			return DecodeTextureFile(file, format)
		}
	}
	textures, err := ol.pool.decodeAll(jobs)
	if err != nil {
		return nil, fmt.Errorf("obj %q: %w", path, err)
	}

	core.LogDebug("obj %q: %d meshes, %d materials, %d textures", path, len(meshes), len(materials), len(textures))
	return &metadata.SceneResource{
		FullPath:  path,
		Meshes:    meshes,
		Materials: materials,
		Textures:  textures,
	}, nil
}

func (p *objParser) parse() error {
	file, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer file.Close()

	dir := filepath.Dir(p.path)
	base := strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
	p.startGroup(base, "")

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			v, err := parseFloats(strings.Join(fields[1:], " "), 3)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			p.positions = append(p.positions, mgl32.Vec3{v[0], v[1], v[2]})
		case "vt":
			v, err := parseFloats(strings.Join(fields[1:], " "), 2)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			// OBJ puts the texture origin bottom left
			p.texcoords = append(p.texcoords, mgl32.Vec2{v[0], 1 - v[1]})
		case "vn":
			v, err := parseFloats(strings.Join(fields[1:], " "), 3)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			p.normals = append(p.normals, mgl32.Vec3{v[0], v[1], v[2]})
		case "f":
			if err := p.face(fields[1:]); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
		case "o", "g":
			name := base
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			p.startGroup(name, p.current.material)
		case "usemtl":
			if len(fields) < 2 {
				return fmt.Errorf("line %d: usemtl without a name", lineNo)
			}
			if fields[1] != p.current.material {
				p.startGroup(p.current.name, fields[1])
			}
		case "mtllib":
			for _, lib := range fields[1:] {
				if err := p.library.parseFile(filepath.Join(dir, lib)); err != nil {
					return fmt.Errorf("line %d: mtllib %s: %w", lineNo, lib, err)
				}
			}
		case "s", "l", "p":
			// smoothing groups, lines and points carry nothing for tracing
		default:
			core.LogDebug("obj %q:%d: unsupported statement '%s'. Skipping...", p.path, lineNo, fields[0])
		}
	}
	return scanner.Err()
}

// startGroup reuses the current group while it is still empty.
func (p *objParser) startGroup(name, material string) {
	if p.current != nil && len(p.current.indices) == 0 {
		p.current.name = name
		p.current.material = material
		return
	}
	p.current = &objGroup{name: name, material: material, lookup: make(map[faceVert]uint32)}
	p.groups = append(p.groups, p.current)
}

func (p *objParser) face(refs []string) error {
	if len(refs) < 3 {
		return fmt.Errorf("%w: face with %d vertices", core.ErrInvalidMesh, len(refs))
	}
	corners := make([]uint32, len(refs))
	for i, ref := range refs {
		fv, err := p.faceVert(ref)
		if err != nil {
			return err
		}
		corners[i] = p.current.vertex(fv, p)
	}
	for i := 1; i+1 < len(corners); i++ {
		p.current.indices = append(p.current.indices, corners[0], corners[i], corners[i+1])
	}
	return nil
}

// faceVert parses v, v/vt, v//vn or v/vt/vn into zero based indices, -1
// for absent components. Negative references count from the end.
func (p *objParser) faceVert(ref string) (faceVert, error) {
	parts := strings.Split(ref, "/")
	fv := faceVert{position: -1, texcoord: -1, normal: -1}
	targets := []*int{&fv.position, &fv.texcoord, &fv.normal}
	counts := []int{len(p.positions), len(p.texcoords), len(p.normals)}
	for i, part := range parts {
		if i >= len(targets) {
			break
		}
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fv, fmt.Errorf("%w: bad face reference %q", core.ErrInvalidMesh, ref)
		}
		idx := n - 1
		if n < 0 {
			idx = counts[i] + n
		}
		if n == 0 || idx < 0 || idx >= counts[i] {
			return fv, fmt.Errorf("%w: face reference %q out of range", core.ErrInvalidMesh, ref)
		}
		*targets[i] = idx
	}
	if fv.position < 0 {
		return fv, fmt.Errorf("%w: face reference %q has no position", core.ErrInvalidMesh, ref)
	}
	return fv, nil
}

func (g *objGroup) vertex(fv faceVert, p *objParser) uint32 {
	if idx, ok := g.lookup[fv]; ok {
		return idx
	}
	v := math.Vertex3D{Position: p.positions[fv.position]}
	if fv.texcoord >= 0 {
		v.Texcoord = p.texcoords[fv.texcoord]
	}
	if fv.normal >= 0 {
		v.Normal = p.normals[fv.normal]
	}
	idx := uint32(len(g.vertices))
	g.vertices = append(g.vertices, v)
	g.lookup[fv] = idx
	return idx
}
