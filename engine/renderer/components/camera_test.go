package components

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func assertVec(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	assert.True(t, want.ApproxEqualThreshold(got, 1e-5), "want %v got %v", want, got)
}

func TestCameraDefaultsLookDownNegativeZ(t *testing.T) {
	c := NewCamera()
	assertVec(t, mgl32.Vec3{0, 0, -1}, c.Forward())
	assertVec(t, mgl32.Vec3{1, 0, 0}, c.Right())
	assert.True(t, c.GetView().ApproxEqual(mgl32.Ident4()))
}

func TestCameraMoveAndView(t *testing.T) {
	c := NewCamera()
	c.MoveForward(2)
	c.MoveUp(1)
	assertVec(t, mgl32.Vec3{0, 1, -2}, c.GetPosition())

	// the view matrix takes the camera position to the origin
	origin := c.GetView().Mul4x1(c.GetPosition().Vec4(1)).Vec3()
	assertVec(t, mgl32.Vec3{}, origin)
	assert.True(t, c.GetView().Mul4(c.InverseView()).ApproxEqualThreshold(mgl32.Ident4(), 1e-5))
}

func TestCameraLookAt(t *testing.T) {
	c := NewCamera()
	c.SetPosition(mgl32.Vec3{0, 1, 4})
	c.LookAt(mgl32.Vec3{})
	assertVec(t, mgl32.Vec3{0, -1, -4}.Normalize(), c.Forward())

	c.SetPosition(mgl32.Vec3{3, 0, 0})
	c.LookAt(mgl32.Vec3{})
	assertVec(t, mgl32.Vec3{-1, 0, 0}, c.Forward())
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.InDelta(t, pitchLimit, c.GetEulerRotation().X(), 1e-6)
	c.Pitch(-20)
	assert.InDelta(t, -pitchLimit, c.GetEulerRotation().X(), 1e-6)
}

func TestProjectionFlipsY(t *testing.T) {
	c := NewCamera()
	p := c.Projection(16.0 / 9.0)
	up := p.Mul4x1(mgl32.Vec4{0, 1, -1, 1})
	assert.Less(t, up.Y()/up.W(), float32(0))
}
