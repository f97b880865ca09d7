package loaders

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief Generates a plane in the XZ plane facing +Y, centred on the origin.
 * Zero or negative sizes and counts default to one.
 * @param width The overall width of the plane along x.
 * @param depth The overall depth of the plane along z.
 * @param xSegmentCount The number of segments along the x-axis.
 * @param zSegmentCount The number of segments along the z-axis.
 * @param tileX The number of times the texture tiles across x.
 * @param tileZ The number of times the texture tiles across z.
 */
func GeneratePlane(width, depth float32, xSegmentCount, zSegmentCount uint32, tileX, tileZ float32) ([]math.Vertex3D, []uint32) {
	width = positiveOr(width, "width")
	depth = positiveOr(depth, "depth")
	tileX = positiveOr(tileX, "tileX")
	tileZ = positiveOr(tileZ, "tileZ")
	if xSegmentCount < 1 {
		core.LogWarn("xSegmentCount must be a positive number. Defaulting to one.")
		xSegmentCount = 1
	}
	if zSegmentCount < 1 {
		core.LogWarn("zSegmentCount must be a positive number. Defaulting to one.")
		zSegmentCount = 1
	}

	// 4 vertices and 6 indices per segment, shared edges are duplicated
	vertices := make([]math.Vertex3D, xSegmentCount*zSegmentCount*4)
	indices := make([]uint32, xSegmentCount*zSegmentCount*6)

	segWidth := width / float32(xSegmentCount)
	segDepth := depth / float32(zSegmentCount)
	halfWidth := width * 0.5
	halfDepth := depth * 0.5
	up := mgl32.Vec3{0, 1, 0}
	for z := uint32(0); z < zSegmentCount; z++ {
		for x := uint32(0); x < xSegmentCount; x++ {
			minX := float32(x)*segWidth - halfWidth
			minZ := float32(z)*segDepth - halfDepth
			maxX := minX + segWidth
			maxZ := minZ + segDepth
			minU := float32(x) / float32(xSegmentCount) * tileX
			minV := float32(z) / float32(zSegmentCount) * tileZ
			maxU := float32(x+1) / float32(xSegmentCount) * tileX
			maxV := float32(z+1) / float32(zSegmentCount) * tileZ

			vOffset := (z*xSegmentCount + x) * 4
			vertices[vOffset+0] = math.Vertex3D{Position: mgl32.Vec3{minX, 0, maxZ}, Normal: up, Texcoord: mgl32.Vec2{minU, maxV}}
			vertices[vOffset+1] = math.Vertex3D{Position: mgl32.Vec3{maxX, 0, minZ}, Normal: up, Texcoord: mgl32.Vec2{maxU, minV}}
			vertices[vOffset+2] = math.Vertex3D{Position: mgl32.Vec3{minX, 0, minZ}, Normal: up, Texcoord: mgl32.Vec2{minU, minV}}
			vertices[vOffset+3] = math.Vertex3D{Position: mgl32.Vec3{maxX, 0, maxZ}, Normal: up, Texcoord: mgl32.Vec2{maxU, maxV}}

			quadIndices(indices[(z*xSegmentCount+x)*6:], vOffset)
		}
	}
	return vertices, indices
}

// cubeFaces lists, per face, the outward normal and the two in-plane axes
// spanning it, with u x v = normal.
var cubeFaces = [6]struct {
	normal, u, v mgl32.Vec3
}{
	{normal: mgl32.Vec3{0, 0, 1}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},   // front
	{normal: mgl32.Vec3{0, 0, -1}, u: mgl32.Vec3{-1, 0, 0}, v: mgl32.Vec3{0, 1, 0}}, // back
	{normal: mgl32.Vec3{-1, 0, 0}, u: mgl32.Vec3{0, 0, 1}, v: mgl32.Vec3{0, 1, 0}},  // left
	{normal: mgl32.Vec3{1, 0, 0}, u: mgl32.Vec3{0, 0, -1}, v: mgl32.Vec3{0, 1, 0}},  // right
	{normal: mgl32.Vec3{0, -1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, 1}},  // bottom
	{normal: mgl32.Vec3{0, 1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, -1}},  // top
}

/**
 * @brief Generates an axis aligned box centred on the origin with 4
 * vertices per face so every face has its own normal.
 */
func GenerateCube(width, height, depth, tileX, tileY float32) ([]math.Vertex3D, []uint32) {
	half := mgl32.Vec3{
		positiveOr(width, "width") * 0.5,
		positiveOr(height, "height") * 0.5,
		positiveOr(depth, "depth") * 0.5,
	}
	tileX = positiveOr(tileX, "tileX")
	tileY = positiveOr(tileY, "tileY")

	vertices := make([]math.Vertex3D, 0, 4*6)
	indices := make([]uint32, 6*6)
	scale := func(v mgl32.Vec3) mgl32.Vec3 {
		return mgl32.Vec3{v.X() * half.X(), v.Y() * half.Y(), v.Z() * half.Z()}
	}
	for i, f := range cubeFaces {
		centre := scale(f.normal)
		u, v := scale(f.u), scale(f.v)
		corner := func(su, sv float32, uv mgl32.Vec2) math.Vertex3D {
			return math.Vertex3D{
				Position: centre.Add(u.Mul(su)).Add(v.Mul(sv)),
				Normal:   f.normal,
				Texcoord: uv,
			}
		}
		vertices = append(vertices,
			corner(-1, -1, mgl32.Vec2{0, tileY}),
			corner(1, 1, mgl32.Vec2{tileX, 0}),
			corner(-1, 1, mgl32.Vec2{0, 0}),
			corner(1, -1, mgl32.Vec2{tileX, tileY}),
		)
		quadIndices(indices[i*6:], uint32(i*4))
	}
	return vertices, indices
}

// quadIndices writes the two counter clockwise triangles of the quad at
// vOffset. Vertices are (-u,-v), (+u,+v), (-u,+v), (+u,-v) and the quad faces
// along u x v.
func quadIndices(out []uint32, vOffset uint32) {
	out[0] = vOffset + 0
	out[1] = vOffset + 3
	out[2] = vOffset + 1
	out[3] = vOffset + 0
	out[4] = vOffset + 1
	out[5] = vOffset + 2
}

func positiveOr(v float32, name string) float32 {
	if v <= 0 {
		core.LogWarn("%s must be positive. Defaulting to one.", name)
		return 1
	}
	return v
}
