package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/fakegpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func checker(name string, size uint32) *metadata.Texture {
	return &metadata.Texture{
		Name:   name,
		Width:  size,
		Height: size,
		Format: metadata.TextureFormatRGBA8SRGB,
		Pixels: make([]byte, size*size*4),
	}
}

func TestTextureUploadBuildsMipChainWhenBlitIsSupported(t *testing.T) {
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4}, device)
	require.NoError(t, err)

	images, err := ts.Upload([]*metadata.Texture{checker("checker", 4)})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, uint32(3), images[0].MipLevels())
	assert.Equal(t, renderer.ImageLayoutShaderReadOnly, images[0].(*fakegpu.Image).Layout())
	images[0].Destroy()
	assert.Empty(t, device.Violations())
}

func TestTextureUploadFallsBackToSingleMip(t *testing.T) {
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	device.SetBlitSupported(false)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4}, device)
	require.NoError(t, err)

	images, err := ts.Upload([]*metadata.Texture{checker("checker", 4)})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, uint32(1), images[0].MipLevels())
	assert.Equal(t, renderer.ImageLayoutShaderReadOnly, images[0].(*fakegpu.Image).Layout())
	images[0].Destroy()
}

func TestTextureUploadRejectsShortPixelData(t *testing.T) {
	device := fakegpu.NewDevice(fakegpu.DefaultProperties())
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4}, device)
	require.NoError(t, err)

	bad := checker("short", 4)
	bad.Pixels = bad.Pixels[:8]
	_, err = ts.Upload([]*metadata.Texture{checker("ok", 2), bad})
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.Zero(t, device.LiveImages())
}
