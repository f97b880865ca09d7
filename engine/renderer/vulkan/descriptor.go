package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

/**
 * @brief The single descriptor set bound by the ray tracing pipeline. Holds
 * the top level structure, the output image, the instance lookup table,
 * the material buffer and the bindless texture array.
 */
type VulkanDescriptorSet struct {
	context *VulkanContext

	/** @brief The layout shared with the pipeline layout. */
	Layout vk.DescriptorSetLayout
	/** @brief The pool the set is allocated from. */
	Pool vk.DescriptorPool
	/** @brief The set itself. */
	Handle vk.DescriptorSet
	/** @brief The sampler used for every texture in the array. */
	Sampler vk.Sampler
	/** @brief The number of elements of the texture array. */
	TextureCount uint32

	/** @brief Whether a top level structure has ever been written. */
	topLevelWritten bool
}

const rayTracingStages = shaderStageRaygen | shaderStageClosestHit | shaderStageMiss

/**
 * @brief Creates the layout, pool, sampler and the set.
 * @param textureCount The size of the bindless texture array.
 */
func NewDescriptorSet(context *VulkanContext, textureCount uint32) (*VulkanDescriptorSet, error) {
	if textureCount == 0 {
		textureCount = renderer.MaxBindlessTextures
	}
	ds := &VulkanDescriptorSet{context: context, TextureCount: textureCount}
	device := context.Device.LogicalDevice

	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         renderer.BindingTopLevelStructure,
			DescriptorType:  vk.DescriptorType(descriptorTypeAccelerationStructure),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(shaderStageRaygen | shaderStageClosestHit),
		},
		{
			Binding:         renderer.BindingOutputImage,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(shaderStageRaygen),
		},
		{
			Binding:         renderer.BindingInstanceDescriptions,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(rayTracingStages),
		},
		{
			Binding:         renderer.BindingMaterials,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(rayTracingStages),
		},
		{
			Binding:         renderer.BindingTextures,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: textureCount,
			StageFlags:      vk.ShaderStageFlags(rayTracingStages),
		},
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(device, &layoutInfo, context.Allocator, &layout); res != vk.Success {
		return nil, vulkanError("vkCreateDescriptorSetLayout", res)
	}
	ds.Layout = layout

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorType(descriptorTypeAccelerationStructure), DescriptorCount: 1},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 1},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 2},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: textureCount},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(device, &poolInfo, context.Allocator, &pool); res != vk.Success {
		ds.Destroy()
		return nil, vulkanError("vkCreateDescriptorPool", res)
	}
	ds.Pool = pool

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     ds.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{ds.Layout},
	}
	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(device, &allocInfo, &set); res != vk.Success {
		ds.Destroy()
		return nil, vulkanError("vkAllocateDescriptorSets", res)
	}
	ds.Handle = set

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  1000.0, // VK_LOD_CLAMP_NONE
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(device, &samplerInfo, context.Allocator, &sampler); res != vk.Success {
		ds.Destroy()
		return nil, vulkanError("vkCreateSampler", res)
	}
	ds.Sampler = sampler

	return ds, nil
}

/** @brief Whether the set references a top level structure yet. */
func (ds *VulkanDescriptorSet) TopLevelWritten() bool {
	return ds.topLevelWritten
}

/**
 * @brief Points the acceleration structure binding at the given structure.
 * The caller must make sure no frame using the set is in flight.
 */
func (ds *VulkanDescriptorSet) WriteAccelerationStructure(binding uint32, structure renderer.AccelerationStructure) error {
	as, ok := structure.(*VulkanAccelerationStructure)
	if !ok || as == nil {
		return fmt.Errorf("binding %d: not a vulkan acceleration structure", binding)
	}
	return ds.context.LockPool.SafeCall(DescriptorManagement, func() error {
		ds.context.KHR.writeStructure(ds.context.Device.LogicalDevice, ds.Handle, binding, as.handle)
		ds.topLevelWritten = true
		return nil
	})
}

/** @brief Points a storage buffer binding at the whole buffer. */
func (ds *VulkanDescriptorSet) WriteStorageBuffer(binding uint32, buffer renderer.Buffer) error {
	b, ok := buffer.(*VulkanBuffer)
	if !ok || b == nil {
		return fmt.Errorf("binding %d: not a vulkan buffer", binding)
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          ds.Handle,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.Handle,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	}
	return ds.update(write)
}

/**
 * @brief Writes the texture array. Slots past the end of images repeat the
 * first image, which is the fallback texture.
 */
func (ds *VulkanDescriptorSet) WriteSampledImages(binding uint32, images []renderer.Image) error {
	if len(images) == 0 {
		return fmt.Errorf("binding %d: no images, the fallback texture is required", binding)
	}
	if uint32(len(images)) > ds.TextureCount {
		return fmt.Errorf("binding %d: %d images exceed the array size %d", binding, len(images), ds.TextureCount)
	}
	infos := make([]vk.DescriptorImageInfo, ds.TextureCount)
	for i := range infos {
		image := images[0]
		if i < len(images) {
			image = images[i]
		}
		img, ok := image.(*VulkanImage)
		if !ok || img == nil {
			return fmt.Errorf("binding %d: slot %d is not a vulkan image", binding, i)
		}
		infos[i] = vk.DescriptorImageInfo{
			Sampler:     ds.Sampler,
			ImageView:   img.View,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          ds.Handle,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorCount: uint32(len(infos)),
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo:      infos,
	}
	return ds.update(write)
}

/**
 * @brief Binds the storage image the raygen shader writes to. Only called
 * from the render thread, which already owns the set.
 */
func (ds *VulkanDescriptorSet) writeStorageImage(binding uint32, image *VulkanImage) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          ds.Handle,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   image.View,
			ImageLayout: vk.ImageLayoutGeneral,
		}},
	}
	vk.UpdateDescriptorSets(ds.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (ds *VulkanDescriptorSet) update(write vk.WriteDescriptorSet) error {
	return ds.context.LockPool.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(ds.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (ds *VulkanDescriptorSet) Destroy() {
	device := ds.context.Device.LogicalDevice
	if ds.Sampler != nil {
		vk.DestroySampler(device, ds.Sampler, ds.context.Allocator)
		ds.Sampler = nil
	}
	// Sets are freed with their pool.
	if ds.Pool != nil {
		vk.DestroyDescriptorPool(device, ds.Pool, ds.context.Allocator)
		ds.Pool = nil
		ds.Handle = nil
	}
	if ds.Layout != nil {
		vk.DestroyDescriptorSetLayout(device, ds.Layout, ds.context.Allocator)
		ds.Layout = nil
	}
	ds.topLevelWritten = false
	core.LogDebug("ray tracing descriptor set destroyed")
}
