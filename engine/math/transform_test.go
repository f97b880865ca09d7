package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestToAffine3x4RowMajor(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3)
	a := ToAffine3x4(m)
	assert.Equal(t, Affine3x4{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
	}, a)
	assert.Equal(t, m, a.Mat4())
}

func TestTransformWorldAppliesParent(t *testing.T) {
	parent := TransformFromPosition(mgl32.Vec3{10, 0, 0})
	child := TransformFromPositionRotationScale(mgl32.Vec3{0, 1, 0}, mgl32.QuatIdent(), mgl32.Vec3{2, 2, 2})
	child.Parent = parent

	p := child.GetWorld().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 12, p.X(), 1e-5)
	assert.InDelta(t, 1, p.Y(), 1e-5)
	assert.InDelta(t, 0, p.Z(), 1e-5)
}

func TestAlignUpAndClamp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint32(7), AlignUp(uint32(7), 0))
	assert.Equal(t, 5, Clamp(9, 0, 5))
	assert.Equal(t, uint32(1), MipLevels(1, 1))
	assert.Equal(t, uint32(9), MipLevels(256, 3))
}
