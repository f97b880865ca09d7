package metadata

/** @brief Marks an absent texture reference in a material. */
const NoTexture int32 = -1

/** @brief The size in bytes of a material entry in the material buffer. */
const MaterialSize = 64

/**
 * @brief A PBR metallic-roughness material. Laid out to match the std430
 * struct read by the closest-hit shader.
 */
type Material struct {
	BaseColorTexture         int32
	NormalTexture            int32
	OcclusionTexture         int32
	MetallicRoughnessTexture int32
	EmissiveTexture          int32
	MetallicFactor           float32
	RoughnessFactor          float32
	_                        float32
	/** @brief Linear RGBA base colour factor. */
	BaseColor [4]float32
	/** @brief Linear RGB emissive colour. */
	EmissiveColor [3]float32
	_             float32
}

/** @brief DefaultMaterial is used when a scene has no materials at all. */
func DefaultMaterial() Material {
	return Material{
		BaseColorTexture:         NoTexture,
		NormalTexture:            NoTexture,
		OcclusionTexture:         NoTexture,
		MetallicRoughnessTexture: NoTexture,
		EmissiveTexture:          NoTexture,
		MetallicFactor:           0,
		RoughnessFactor:          1,
		BaseColor:                [4]float32{1, 1, 1, 1},
	}
}

/**
 * @brief Returns a copy of the material whose texture references have been
 * shifted by offset. Absent references stay absent.
 */
func (m Material) WithTextureOffset(offset int32) Material {
	shift := func(idx int32) int32 {
		if idx == NoTexture {
			return NoTexture
		}
		return idx + offset
	}
	m.BaseColorTexture = shift(m.BaseColorTexture)
	m.NormalTexture = shift(m.NormalTexture)
	m.OcclusionTexture = shift(m.OcclusionTexture)
	m.MetallicRoughnessTexture = shift(m.MetallicRoughnessTexture)
	m.EmissiveTexture = shift(m.EmissiveTexture)
	return m
}
