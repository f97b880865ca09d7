package components

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief Represents a camera that can be used for
 * a variety of things, especially rendering. Ideally,
 * these are created and managed by the camera system.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position mgl32.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead
	 * so the view matrix is recalculated when needed.
	 */
	EulerRotation mgl32.Vec3
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	/**
	 * @brief The view matrix of this camera.
	 * NOTE: IMPORTANT: Do not get this directly, use GetView() instead
	 * so the view matrix is recalculated when needed.
	 */
	ViewMatrix mgl32.Mat4
	/** @brief Camera to world transform, the inverse of ViewMatrix. */
	world mgl32.Mat4

	/** @brief Vertical field of view in radians. */
	FovY float32
	Near float32
	Far  float32
}

type CameraLookup struct {
	ReferenceCount uint16
	Camera         *Camera
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// 89 degrees, keeps the view away from gimbal lock.
const pitchLimit float32 = 1.55334306

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = mgl32.Vec3{}
	c.Position = mgl32.Vec3{}
	c.IsDirty = false
	c.ViewMatrix = mgl32.Ident4()
	c.world = mgl32.Ident4()
	c.FovY = mgl32.DegToRad(60)
	c.Near = 0.01
	c.Far = 1000
}

func (c *Camera) GetPosition() mgl32.Vec3 {
	return c.Position
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) GetEulerRotation() mgl32.Vec3 {
	return c.EulerRotation
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

// LookAt turns the camera towards target without rolling it.
func (c *Camera) LookAt(target mgl32.Vec3) {
	dir := target.Sub(c.Position)
	if dir.Len() == 0 {
		return
	}
	dir = dir.Normalize()
	pitch := float32(gomath.Asin(float64(dir.Y())))
	yaw := float32(gomath.Atan2(float64(-dir.X()), float64(-dir.Z())))
	c.SetEulerRotation(mgl32.Vec3{math.Clamp(pitch, -pitchLimit, pitchLimit), yaw, 0})
}

func (c *Camera) rebuild() {
	if !c.IsDirty {
		return
	}
	rotation := mgl32.HomogRotate3DY(c.EulerRotation.Y()).
		Mul4(mgl32.HomogRotate3DX(c.EulerRotation.X())).
		Mul4(mgl32.HomogRotate3DZ(c.EulerRotation.Z()))
	translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())

	c.world = translation.Mul4(rotation)
	c.ViewMatrix = c.world.Inv()
	c.IsDirty = false
}

func (c *Camera) GetView() mgl32.Mat4 {
	c.rebuild()
	return c.ViewMatrix
}

// InverseView is the camera to world transform.
func (c *Camera) InverseView() mgl32.Mat4 {
	c.rebuild()
	return c.world
}

// Projection is a Vulkan style perspective projection: y points down in
// clip space.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	p := mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
	p[5] = -p[5]
	return p
}

func (c *Camera) direction(local mgl32.Vec3) mgl32.Vec3 {
	c.rebuild()
	return c.world.Mul4x1(local.Vec4(0)).Vec3().Normalize()
}

func (c *Camera) Forward() mgl32.Vec3 {
	return c.direction(mgl32.Vec3{0, 0, -1})
}

func (c *Camera) Backward() mgl32.Vec3 {
	return c.direction(mgl32.Vec3{0, 0, 1})
}

func (c *Camera) Left() mgl32.Vec3 {
	return c.direction(mgl32.Vec3{-1, 0, 0})
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.direction(mgl32.Vec3{1, 0, 0})
}

func (c *Camera) move(direction mgl32.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.Mul(amount))
	c.IsDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Backward(), amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Left(), amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(mgl32.Vec3{0, 1, 0}, amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(mgl32.Vec3{0, -1, 0}, amount)
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation[0] = math.Clamp(c.EulerRotation[0]+amount, -pitchLimit, pitchLimit)
	c.IsDirty = true
}
