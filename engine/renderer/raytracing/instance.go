package raytracing

import (
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Instance places a bottom level structure into the top level structure.
type Instance struct {
	BLAS      *BottomLevelStructure
	Transform math.Affine3x4
	Mask      uint8
	SBTOffset uint32
}

// DefaultInstance instances b at its mesh transform, visible to every ray
// and using the first hit group.
func DefaultInstance(b *BottomLevelStructure) Instance {
	return Instance{
		BLAS:      b,
		Transform: b.Transform(),
		Mask:      0xFF,
	}
}

func (i Instance) record(customIndex uint32) metadata.InstanceRecord {
	return metadata.InstanceRecord{
		Transform:   i.Transform,
		CustomIndex: customIndex,
		Mask:        i.Mask,
		SBTOffset:   i.SBTOffset,
		Flags:       metadata.InstanceFlagTriangleFacingCullDisable,
		Reference:   i.BLAS.reference(),
	}
}

func packRecords(records []metadata.InstanceRecord) []byte {
	out := make([]byte, max(len(records), 1)*metadata.InstanceRecordSize)
	for i, r := range records {
		r.Pack(out[i*metadata.InstanceRecordSize:])
	}
	return out
}

func packDescriptions(descriptions []metadata.InstanceDescription) []byte {
	out := make([]byte, max(len(descriptions), 1)*metadata.InstanceDescriptionSize)
	for i, d := range descriptions {
		o := out[i*metadata.InstanceDescriptionSize:]
		putUint64(o[0:], uint64(d.VertexAddress))
		putUint64(o[8:], uint64(d.IndexAddress))
		putUint64(o[16:], uint64(d.GeometryAddress))
		putUint32(o[24:], uint32(d.MaterialIndex))
	}
	return out
}
