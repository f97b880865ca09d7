package loaders

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DecodeTexture decodes any registered image format into tightly packed RGBA8.
func DecodeTexture(name string, r io.Reader, format metadata.TextureFormat) (*metadata.Texture, error) {
	img, kind, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w: %w", name, core.ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	core.LogDebug("decoded %s texture %q (%dx%d)", kind, name, bounds.Dx(), bounds.Dy())

	return &metadata.Texture{
		Name:   name,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Format: format,
		Pixels: rgba.Pix,
	}, nil
}

func DecodeTextureFile(path string, format metadata.TextureFormat) (*metadata.Texture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTexture(filepath.Base(path), bytes.NewReader(data), format)
}
