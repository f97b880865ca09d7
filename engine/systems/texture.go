package systems

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
)

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be bound at once, fallback included. */
	MaxTextureCount uint32
}

// TextureSystem owns the bound texture array. Slot 0 always holds the 1x1
// white fallback texture, which lives until Shutdown.
type TextureSystem struct {
	Config *TextureSystemConfig
	device renderer.Device
	slots  []renderer.Image
}

func NewTextureSystem(config *TextureSystemConfig, device renderer.Device) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		Config: config,
		device: device,
	}, nil
}

func (ts *TextureSystem) Initialize() error {
	if len(ts.slots) > 0 {
		return nil
	}
	images, err := ts.Upload([]*metadata.Texture{metadata.FallbackTexture()})
	if err != nil {
		return err
	}
	ts.slots = images
	return nil
}

func (ts *TextureSystem) Shutdown() error {
	for _, img := range ts.slots {
		img.Destroy()
	}
	ts.slots = nil
	return nil
}

// Images returns the bound texture array, fallback first.
func (ts *TextureSystem) Images() []renderer.Image {
	return append([]renderer.Image(nil), ts.slots...)
}

func (ts *TextureSystem) Count() int {
	return len(ts.slots)
}

func (ts *TextureSystem) Fallback() renderer.Image {
	if len(ts.slots) == 0 {
		return nil
	}
	return ts.slots[metadata.FallbackTextureSlot]
}

// Replace swaps every slot except the fallback for images and returns the
// images that were replaced. They must be retired, not destroyed, by the caller.
func (ts *TextureSystem) Replace(images []renderer.Image) []raytracing.Retirable {
	var retired []raytracing.Retirable
	for _, img := range ts.slots[metadata.FallbackTextureSlot+1:] {
		retired = append(retired, img)
	}
	ts.slots = append(ts.slots[:metadata.FallbackTextureSlot+1:metadata.FallbackTextureSlot+1], images...)
	return retired
}

func (ts *TextureSystem) Append(images []renderer.Image) {
	ts.slots = append(ts.slots, images...)
}

// Fits reports whether n more textures fit in the array next to the
// first `keep` slots.
func (ts *TextureSystem) Fits(keep, n int) bool {
	return uint32(keep+n) <= ts.Config.MaxTextureCount
}

// Upload creates device local images for textures in one blocking
// submission. Images whose format supports blitting get a full mip chain.
func (ts *TextureSystem) Upload(textures []*metadata.Texture) ([]renderer.Image, error) {
	if len(textures) == 0 {
		return nil, nil
	}

	images := make([]renderer.Image, 0, len(textures))
	stagings := make([]renderer.Buffer, 0, len(textures))
	cleanup := func() {
		for _, s := range stagings {
			s.Destroy()
		}
	}
	fail := func(err error) ([]renderer.Image, error) {
		cleanup()
		for _, img := range images {
			img.Destroy()
		}
		core.LogError(err.Error())
		return nil, err
	}

	for _, tex := range textures {
		expected := int(tex.Width) * int(tex.Height) * 4
		if tex.Width == 0 || tex.Height == 0 || len(tex.Pixels) != expected {
			return fail(fmt.Errorf("texture %q: %w: %dx%d with %d bytes", tex.Name, core.ErrUnsupportedFormat, tex.Width, tex.Height, len(tex.Pixels)))
		}
		mips := uint32(1)
		if ts.device.FormatSupportsBlit(tex.Format) {
			mips = math.MipLevels(tex.Width, tex.Height)
		}
		img, err := ts.device.CreateImage(tex.Name, tex.Width, tex.Height, mips, tex.Format)
		if err != nil {
			return fail(err)
		}
		images = append(images, img)

		staging, err := ts.device.CreateBuffer(tex.Name+"/staging", uint64(len(tex.Pixels)), metadata.BufferUsageTransferSrc, metadata.MemoryUsageCPUToGPU)
		if err != nil {
			return fail(err)
		}
		stagings = append(stagings, staging)
		if err := staging.MemoryCopy(tex.Pixels, 0); err != nil {
			return fail(err)
		}
	}

	err := ts.device.OneTimeSubmit(func(cmd renderer.CommandBuffer) error {
		for i, img := range images {
			cmd.TransitionImage(img, renderer.ImageLayoutUndefined, renderer.ImageLayoutTransferDst)
			cmd.CopyBufferToImage(stagings[i], img)
			if img.MipLevels() > 1 {
				cmd.GenerateMipmaps(img)
			} else {
				cmd.TransitionImage(img, renderer.ImageLayoutTransferDst, renderer.ImageLayoutShaderReadOnly)
			}
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("texture upload: %w: %w", core.ErrDeviceFailure, err))
	}
	cleanup()
	return images, nil
}
