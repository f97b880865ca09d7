package metadata

import "github.com/go-gl/mathgl/mgl32"

/** @brief The size in bytes of the camera push constant block read by the raygen shader. */
const CameraPushConstantSize = 128

/** @brief Everything the backend needs to draw one frame. */
type FrameData struct {
	/** @brief Seconds since the previous frame. */
	DeltaTime float64
	/** @brief Camera to world transform. */
	InverseView mgl32.Mat4
	/** @brief Clip space to camera space transform. */
	InverseProjection mgl32.Mat4
}

/**
 * @brief Packs the camera block as two column-major mat4, inverse view
 * first.
 */
func (f FrameData) CameraBlock() [32]float32 {
	var out [32]float32
	copy(out[:16], f.InverseView[:])
	copy(out[16:], f.InverseProjection[:])
	return out
}
