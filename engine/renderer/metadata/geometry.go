package metadata

import "github.com/spaghettifunk/lumen/engine/math"

/**
 * @brief The geometry fed into an acceleration structure build. Exactly one
 * of TrianglesData or InstancesData. Consumers must switch over both.
 */
type GeometryData interface {
	/** @brief PrimitiveCount returns the number of triangles or instances. */
	PrimitiveCount() uint32
	isGeometryData()
}

/**
 * @brief Triangle geometry for a bottom level structure. All addresses point
 * at device resident buffers.
 */
type TrianglesData struct {
	VertexAddress DeviceAddress
	VertexStride  uint64
	MaxVertex     uint32
	IndexAddress  DeviceAddress
	Triangles     uint32
	/** @brief Opaque geometry skips any-hit shaders. */
	Opaque bool
}

func (t TrianglesData) PrimitiveCount() uint32 { return t.Triangles }
func (TrianglesData) isGeometryData()          {}

/**
 * @brief Instance geometry for a top level structure. The address points at
 * a buffer of packed InstanceRecords.
 */
type InstancesData struct {
	InstancesAddress DeviceAddress
	Instances        uint32
}

func (i InstancesData) PrimitiveCount() uint32 { return i.Instances }
func (InstancesData) isGeometryData()          {}

/**
 * @brief Places a mesh into the top level structure.
 */
type Placement struct {
	/** @brief Index of the mesh (and its bottom level structure) being instanced. */
	Mesh int
	/** @brief Applied on top of the mesh transform. */
	Transform math.Affine3x4
	/** @brief Visibility mask tested against the ray mask. */
	Mask uint8
	/** @brief Hit group offset into the shader binding table. */
	SBTOffset uint32
}
