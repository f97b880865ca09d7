package math

import "github.com/go-gl/mathgl/mgl32"

func TransformFromPosition(position mgl32.Vec3) *Transform {
	return TransformFromPositionRotationScale(position, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

func TransformFromPositionRotationScale(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) *Transform {
	t := &Transform{}
	t.SetPositionRotationScale(position, rotation, scale)
	t.Local = mgl32.Ident4()
	return t
}

// TransformFromMatrix wraps an already composed local matrix, as found on
// glTF nodes that carry a matrix instead of TRS components.
func TransformFromMatrix(local mgl32.Mat4) *Transform {
	return &Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
		Local:    local,
	}
}

func (t *Transform) SetPosition(position mgl32.Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) SetPositionRotationScale(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) {
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal returns T * R * S.
func (t *Transform) GetLocal() mgl32.Mat4 {
	if t != nil {
		if t.IsDirty {
			tr := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
			r := t.Rotation.Normalize().Mat4()
			s := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
			t.Local = tr.Mul4(r).Mul4(s)
			t.IsDirty = false
		}
		return t.Local
	}
	return mgl32.Ident4()
}

func (t *Transform) GetWorld() mgl32.Mat4 {
	if t != nil {
		l := t.GetLocal()
		if t.Parent != nil {
			return t.Parent.GetWorld().Mul4(l)
		}
		return l
	}
	return mgl32.Ident4()
}

// ToAffine3x4 drops the projective row of a column-major matrix and lays the
// remaining rows out row-major.
func ToAffine3x4(m mgl32.Mat4) Affine3x4 {
	var a Affine3x4
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			a[row*4+col] = m.At(row, col)
		}
	}
	return a
}

func IdentityAffine3x4() Affine3x4 {
	return ToAffine3x4(mgl32.Ident4())
}

// Mat4 expands the affine matrix back into a column-major 4x4.
func (a Affine3x4) Mat4() mgl32.Mat4 {
	m := mgl32.Ident4()
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, a[row*4+col])
		}
	}
	return m
}
