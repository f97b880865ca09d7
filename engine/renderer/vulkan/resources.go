package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var _ renderer.Device = (*VulkanContext)(nil)

func (vc *VulkanContext) Properties() metadata.DeviceProperties {
	props := metadata.DeviceProperties{
		MaxPrimitiveCount:   vc.RayTracing.MaxPrimitiveCount,
		MaxInstanceCount:    vc.RayTracing.MaxInstanceCount,
		MinScratchAlignment: vc.RayTracing.MinScratchAlignment,
	}
	if limit := vc.Limits.MaxPrimitiveCount; limit > 0 && limit < props.MaxPrimitiveCount {
		props.MaxPrimitiveCount = limit
	}
	if limit := vc.Limits.MaxInstanceCount; limit > 0 && limit < props.MaxInstanceCount {
		props.MaxInstanceCount = limit
	}
	return props
}

func (vc *VulkanContext) CreateBuffer(name string, size uint64, usage metadata.BufferUsage, memory metadata.MemoryUsage) (renderer.Buffer, error) {
	var buffer *VulkanBuffer
	err := vc.LockPool.SafeCall(ResourceManagement, func() error {
		var err error
		buffer, err = NewBuffer(vc, name, size, bufferUsageFlags(usage), memory == metadata.MemoryUsageCPUToGPU)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

func (vc *VulkanContext) GetAccelerationStructureBuildSizes(info metadata.BuildInfo) (metadata.BuildSizes, error) {
	sizes := vc.KHR.buildSizes(vc.Device.LogicalDevice, info)
	if sizes.AccelerationStructureSize == 0 {
		return sizes, fmt.Errorf("%w: device reported a zero sized %s structure", core.ErrDeviceFailure, info.Type())
	}
	return sizes, nil
}

func (vc *VulkanContext) CreateAccelerationStructure(structureType metadata.AccelerationStructureType, storage renderer.Buffer, size uint64) (renderer.AccelerationStructure, error) {
	buffer, ok := storage.(*VulkanBuffer)
	if !ok || buffer == nil {
		return nil, errors.New("acceleration structure storage is not a vulkan buffer")
	}
	if size > buffer.Size() {
		return nil, fmt.Errorf("%s structure of %d bytes does not fit storage %q of %d bytes", structureType, size, buffer.Name, buffer.Size())
	}

	as := &VulkanAccelerationStructure{context: vc, kind: structureType, storage: buffer}
	err := vc.LockPool.SafeCall(StructureManagement, func() error {
		handle, res := vc.KHR.createStructure(vc.Device.LogicalDevice, buffer.Handle, size,
			structureType == metadata.AccelerationStructureTypeTopLevel)
		if res != vk.Success {
			return vulkanError("vkCreateAccelerationStructureKHR", res)
		}
		as.handle = handle
		as.address = vc.KHR.structureAddress(vc.Device.LogicalDevice, handle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return as, nil
}

func (vc *VulkanContext) CreateImage(name string, width, height, mipLevels uint32, format metadata.TextureFormat) (renderer.Image, error) {
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit
	var image *VulkanImage
	err := vc.LockPool.SafeCall(ResourceManagement, func() error {
		var err error
		image, err = ImageCreate(vc, name, width, height, mipLevels, textureFormat(format), vk.ImageUsageFlags(usage))
		return err
	})
	if err != nil {
		return nil, err
	}
	image.format = format
	return image, nil
}

// FormatSupportsBlit reports whether images of the format can produce their
// own mip chain with linear blits.
func (vc *VulkanContext) FormatSupportsBlit(format metadata.TextureFormat) bool {
	var properties vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(vc.Device.PhysicalDevice, textureFormat(format), &properties)
	properties.Deref()
	required := vk.FormatFeatureBlitSrcBit | vk.FormatFeatureBlitDstBit | vk.FormatFeatureSampledImageFilterLinearBit
	return vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&required == required
}

func (vc *VulkanContext) OneTimeSubmit(record func(cmd renderer.CommandBuffer) error) error {
	return vc.LockPool.SafeCall(UploadManagement, func() error {
		pool := vc.Device.UploadCommandPool
		cb, err := AllocateAndBeginSingleUse(vc, pool)
		if err != nil {
			return err
		}
		if err := record(cb); err != nil {
			// Nothing was submitted.
			cb.End()
			cb.Free(pool)
			return err
		}
		return cb.EndSingleUse(pool, vc.Device.GraphicsQueue, uint32(vc.Device.GraphicsQueueIndex))
	})
}

func (vc *VulkanContext) WaitIdle() error {
	if vc.Device == nil || vc.Device.LogicalDevice == nil {
		return nil
	}
	if res := vk.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
		return vulkanError("vkDeviceWaitIdle", res)
	}
	return nil
}
