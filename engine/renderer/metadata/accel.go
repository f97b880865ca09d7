package metadata

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
)

/** @brief The limits of the device relevant to acceleration structure builds. */
type DeviceProperties struct {
	/** @brief Maximum number of triangles in a single bottom level geometry. */
	MaxPrimitiveCount uint64
	/** @brief Maximum number of instances in a top level structure. */
	MaxInstanceCount uint64
	/** @brief Required alignment of scratch buffer addresses. */
	MinScratchAlignment uint64
}

/** @brief The kind of acceleration structure. */
type AccelerationStructureType int

const (
	AccelerationStructureTypeBottomLevel AccelerationStructureType = iota
	AccelerationStructureTypeTopLevel
)

func (t AccelerationStructureType) String() string {
	switch t {
	case AccelerationStructureTypeBottomLevel:
		return "bottom-level"
	case AccelerationStructureTypeTopLevel:
		return "top-level"
	}
	return fmt.Sprintf("AccelerationStructureType(%d)", int(t))
}

/** @brief Whether a build starts from scratch. */
type BuildMode int

const (
	BuildModeBuild BuildMode = iota
	BuildModeUpdate
)

/** @brief Memory requirements returned by the device for a build. */
type BuildSizes struct {
	AccelerationStructureSize uint64
	BuildScratchSize          uint64
	UpdateScratchSize         uint64
}

/**
 * @brief Describes a single acceleration structure build. Immutable; created
 * with a BuildInfoBuilder.
 */
type BuildInfo struct {
	structureType AccelerationStructureType
	mode          BuildMode
	geometry      GeometryData
	preferTrace   bool
	scratch       DeviceAddress
}

func (b BuildInfo) Type() AccelerationStructureType { return b.structureType }
func (b BuildInfo) Mode() BuildMode                 { return b.mode }
func (b BuildInfo) Geometry() GeometryData          { return b.geometry }
func (b BuildInfo) PreferFastTrace() bool           { return b.preferTrace }
func (b BuildInfo) ScratchAddress() DeviceAddress   { return b.scratch }

/** @brief Builds a BuildInfo step by step. */
type BuildInfoBuilder struct {
	info BuildInfo
}

func NewBuildInfoBuilder(structureType AccelerationStructureType) *BuildInfoBuilder {
	return &BuildInfoBuilder{info: BuildInfo{structureType: structureType, preferTrace: true}}
}

func (b *BuildInfoBuilder) Mode(mode BuildMode) *BuildInfoBuilder {
	b.info.mode = mode
	return b
}

func (b *BuildInfoBuilder) Geometry(geometry GeometryData) *BuildInfoBuilder {
	b.info.geometry = geometry
	return b
}

func (b *BuildInfoBuilder) Scratch(address DeviceAddress) *BuildInfoBuilder {
	b.info.scratch = address
	return b
}

func (b *BuildInfoBuilder) PreferFastBuild() *BuildInfoBuilder {
	b.info.preferTrace = false
	return b
}

/**
 * @brief Build validates the accumulated state and returns the BuildInfo.
 * The geometry kind must match the structure type.
 */
func (b *BuildInfoBuilder) Build() (BuildInfo, error) {
	switch g := b.info.geometry.(type) {
	case TrianglesData:
		if b.info.structureType != AccelerationStructureTypeBottomLevel {
			return BuildInfo{}, fmt.Errorf("triangle geometry needs a bottom-level structure, got %s", b.info.structureType)
		}
		if g.VertexAddress == 0 || g.IndexAddress == 0 {
			return BuildInfo{}, fmt.Errorf("triangle geometry without vertex or index address")
		}
	case InstancesData:
		if b.info.structureType != AccelerationStructureTypeTopLevel {
			return BuildInfo{}, fmt.Errorf("instance geometry needs a top-level structure, got %s", b.info.structureType)
		}
		if g.Instances > 0 && g.InstancesAddress == 0 {
			return BuildInfo{}, fmt.Errorf("instance geometry without instance buffer address")
		}
	case nil:
		return BuildInfo{}, fmt.Errorf("build info without geometry")
	}
	return b.info, nil
}

/** @brief Instance flag disabling back face culling. */
const InstanceFlagTriangleFacingCullDisable uint8 = 0x1

/** @brief The size in bytes of a packed InstanceRecord. */
const InstanceRecordSize = 64

/**
 * @brief One instance of a bottom level structure inside the top level
 * structure. Pack produces the layout consumed by the device.
 */
type InstanceRecord struct {
	Transform math.Affine3x4
	/** @brief 24 bit index exposed to shaders as the instance custom index. */
	CustomIndex uint32
	Mask        uint8
	/** @brief 24 bit shader binding table record offset. */
	SBTOffset uint32
	Flags     uint8
	/** @brief Device address of the referenced bottom level structure. */
	Reference DeviceAddress
}

func (r InstanceRecord) Pack(dst []byte) {
	for i, f := range r.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], stdmath.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], r.CustomIndex&0xFFFFFF|uint32(r.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], r.SBTOffset&0xFFFFFF|uint32(r.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], uint64(r.Reference))
}

/** @brief UnpackInstanceRecord is the inverse of Pack. */
func UnpackInstanceRecord(src []byte) InstanceRecord {
	var r InstanceRecord
	for i := range r.Transform {
		r.Transform[i] = stdmath.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	w := binary.LittleEndian.Uint32(src[48:])
	r.CustomIndex, r.Mask = w&0xFFFFFF, uint8(w>>24)
	w = binary.LittleEndian.Uint32(src[52:])
	r.SBTOffset, r.Flags = w&0xFFFFFF, uint8(w>>24)
	r.Reference = DeviceAddress(binary.LittleEndian.Uint64(src[56:]))
	return r
}

/** @brief The size in bytes of a packed InstanceDescription. */
const InstanceDescriptionSize = 32

/**
 * @brief Per instance lookup table entry read by the closest-hit shader,
 * indexed by the instance custom index.
 */
type InstanceDescription struct {
	VertexAddress   DeviceAddress
	IndexAddress    DeviceAddress
	GeometryAddress DeviceAddress
	MaterialIndex   int32
	_               int32
}
