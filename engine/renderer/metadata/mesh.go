package metadata

import "github.com/spaghettifunk/lumen/engine/math"

/** @brief Marks a mesh without a material. The closest-hit shader falls back to the default material. */
const NoMaterial int32 = -1

/**
 * @brief A triangle mesh as produced by the asset loaders. Immutable once
 * loaded; the scene manager owns it until the scene is replaced.
 */
type Mesh struct {
	/** @brief The name of the mesh, used for diagnostics. */
	Name string
	/** @brief The vertices of the mesh. */
	Vertices []math.Vertex3D
	/** @brief Triangle list indices. */
	Indices []uint32
	/** @brief The object-to-world transform. */
	Transform math.Affine3x4
	/** @brief Index into the scene material table, or -1 when the mesh has none. */
	MaterialIndex int32
}

/** @brief TriangleCount returns the number of whole triangles in the index list. */
func (m *Mesh) TriangleCount() uint32 {
	return uint32(len(m.Indices) / 3)
}
