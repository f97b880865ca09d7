package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceRecordPackLayout(t *testing.T) {
	rec := InstanceRecord{
		Transform:   math.IdentityAffine3x4(),
		CustomIndex: 0x123456,
		Mask:        0xFF,
		SBTOffset:   2,
		Flags:       InstanceFlagTriangleFacingCullDisable,
		Reference:   0xdeadbeef00,
	}
	buf := make([]byte, InstanceRecordSize)
	rec.Pack(buf)

	assert.Equal(t, uint32(0xFF123456), binary.LittleEndian.Uint32(buf[48:]))
	assert.Equal(t, uint32(0x01000002), binary.LittleEndian.Uint32(buf[52:]))
	assert.Equal(t, uint64(0xdeadbeef00), binary.LittleEndian.Uint64(buf[56:]))
	assert.Equal(t, rec, UnpackInstanceRecord(buf))
}

func TestBuildInfoBuilderRejectsMismatchedGeometry(t *testing.T) {
	_, err := NewBuildInfoBuilder(AccelerationStructureTypeTopLevel).
		Geometry(TrianglesData{VertexAddress: 1, IndexAddress: 2, Triangles: 1}).
		Build()
	assert.Error(t, err)

	_, err = NewBuildInfoBuilder(AccelerationStructureTypeBottomLevel).Build()
	assert.Error(t, err)

	info, err := NewBuildInfoBuilder(AccelerationStructureTypeTopLevel).
		Mode(BuildModeUpdate).
		Geometry(InstancesData{InstancesAddress: 64, Instances: 3}).
		Scratch(128).
		Build()
	require.NoError(t, err)
	assert.Equal(t, BuildModeUpdate, info.Mode())
	assert.Equal(t, uint32(3), info.Geometry().PrimitiveCount())
	assert.Equal(t, DeviceAddress(128), info.ScratchAddress())
	assert.True(t, info.PreferFastTrace())

	info, err = NewBuildInfoBuilder(AccelerationStructureTypeTopLevel).
		Geometry(InstancesData{}).
		PreferFastBuild().
		Build()
	require.NoError(t, err)
	assert.False(t, info.PreferFastTrace())
}

func TestMaterialLayoutAndOffset(t *testing.T) {
	assert.Equal(t, MaterialSize, binary.Size(Material{}))
	assert.Equal(t, InstanceDescriptionSize, binary.Size(InstanceDescription{}))

	m := DefaultMaterial()
	m.BaseColorTexture = 0
	shifted := m.WithTextureOffset(4)
	assert.Equal(t, int32(4), shifted.BaseColorTexture)
	assert.Equal(t, NoTexture, shifted.NormalTexture)
}
