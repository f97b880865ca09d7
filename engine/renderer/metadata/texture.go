package metadata

/** @brief The slot of the permanent 1x1 white fallback texture. */
const FallbackTextureSlot = 0

/** @brief The name of the fallback texture. */
const DEFAULT_TEXTURE_NAME string = "default"

/** @brief Pixel format of decoded texture data. */
type TextureFormat int

const (
	/** @brief 8 bit per channel RGBA, sRGB encoded. Colour data. */
	TextureFormatRGBA8SRGB TextureFormat = iota
	/** @brief 8 bit per channel RGBA, linear. Normal maps and other data. */
	TextureFormatRGBA8Unorm
)

/**
 * @brief A decoded texture ready for upload. Pixels are always tightly
 * packed RGBA8.
 */
type Texture struct {
	/** @brief The texture Name. */
	Name string
	/** @brief The texture Width. */
	Width uint32
	/** @brief The texture Height. */
	Height uint32
	/** @brief The pixel format. */
	Format TextureFormat
	/** @brief The raw texture data (pixels). */
	Pixels []byte
}

/** @brief FallbackTexture returns the 1x1 opaque white texture. */
func FallbackTexture() *Texture {
	return &Texture{
		Name:   DEFAULT_TEXTURE_NAME,
		Width:  1,
		Height: 1,
		Format: TextureFormatRGBA8SRGB,
		Pixels: []byte{0xff, 0xff, 0xff, 0xff},
	}
}
