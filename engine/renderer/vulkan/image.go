package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanImage struct {
	context *VulkanContext

	Name      string
	Handle    vk.Image
	Memory    vk.DeviceMemory
	View      vk.ImageView
	VkFormat  vk.Format
	width     uint32
	height    uint32
	mipLevels uint32
	format    metadata.TextureFormat
}

func textureFormat(format metadata.TextureFormat) vk.Format {
	switch format {
	case metadata.TextureFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	default:
		return vk.FormatR8g8b8a8Srgb
	}
}

// ImageCreate creates a 2D, device local image with a view over every mip
// level.
func ImageCreate(
	context *VulkanContext,
	name string,
	width, height, mipLevels uint32,
	format vk.Format,
	usage vk.ImageUsageFlags) (*VulkanImage, error) {
	if mipLevels == 0 {
		mipLevels = 1
	}
	image := &VulkanImage{
		context:   context,
		Name:      name,
		VkFormat:  format,
		width:     width,
		height:    height,
		mipLevels: mipLevels,
	}
	device := context.Device.LogicalDevice

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if res := vk.CreateImage(device, &imageCreateInfo, context.Allocator, &image.Handle); res != vk.Success {
		return nil, vulkanError(fmt.Sprintf("vkCreateImage %q", name), res)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image.Handle, &requirements)
	requirements.Deref()

	memory, err := context.allocate(requirements, vk.MemoryPropertyDeviceLocalBit, false)
	if err != nil {
		vk.DestroyImage(device, image.Handle, context.Allocator)
		return nil, fmt.Errorf("image %q: %w", name, err)
	}
	image.Memory = memory
	if res := vk.BindImageMemory(device, image.Handle, image.Memory, 0); res != vk.Success {
		image.Destroy()
		return nil, vulkanError(fmt.Sprintf("vkBindImageMemory %q", name), res)
	}

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	if res := vk.CreateImageView(device, &viewCreateInfo, context.Allocator, &image.View); res != vk.Success {
		image.Destroy()
		return nil, vulkanError(fmt.Sprintf("vkCreateImageView %q", name), res)
	}
	return image, nil
}

func (vi *VulkanImage) Width() uint32                  { return vi.width }
func (vi *VulkanImage) Height() uint32                 { return vi.height }
func (vi *VulkanImage) MipLevels() uint32              { return vi.mipLevels }
func (vi *VulkanImage) Format() metadata.TextureFormat { return vi.format }

func (vi *VulkanImage) Destroy() {
	device := vi.context.Device.LogicalDevice
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(device, vi.View, vi.context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vi.Memory, vi.context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(device, vi.Handle, vi.context.Allocator)
		vi.Handle = vk.NullImage
	}
}
