package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VulkanBuffer is a buffer with its own memory allocation. Host visible
// buffers stay mapped for their whole lifetime.
type VulkanBuffer struct {
	context *VulkanContext

	Name    string
	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	size    uint64
	mapped  unsafe.Pointer
	address metadata.DeviceAddress
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage.Has(metadata.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage.Has(metadata.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage.Has(metadata.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage.Has(metadata.BufferUsageShaderDeviceAddress) {
		flags |= bufferUsageShaderDeviceAddress
	}
	if usage.Has(metadata.BufferUsageAccelerationStructureStorage) {
		flags |= bufferUsageStructureStorage | bufferUsageShaderDeviceAddress
	}
	if usage.Has(metadata.BufferUsageAccelerationStructureBuildInput) {
		flags |= bufferUsageStructureBuildInput | bufferUsageShaderDeviceAddress
	}
	return vk.BufferUsageFlags(flags)
}

func NewBuffer(context *VulkanContext, name string, size uint64, usage vk.BufferUsageFlags, hostVisible bool) (*VulkanBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", name)
	}
	buffer := &VulkanBuffer{context: context, Name: name, size: size}
	device := context.Device.LogicalDevice

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(device, &createInfo, context.Allocator, &buffer.Handle); res != vk.Success {
		return nil, vulkanError(fmt.Sprintf("vkCreateBuffer %q", name), res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer.Handle, &requirements)
	requirements.Deref()

	properties := vk.MemoryPropertyDeviceLocalBit
	if hostVisible {
		properties = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	addressable := usage&vk.BufferUsageFlags(bufferUsageShaderDeviceAddress) != 0
	memory, err := context.allocate(requirements, properties, addressable)
	if err != nil {
		vk.DestroyBuffer(device, buffer.Handle, context.Allocator)
		return nil, fmt.Errorf("buffer %q: %w", name, err)
	}
	buffer.Memory = memory
	if res := vk.BindBufferMemory(device, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		buffer.Destroy()
		return nil, vulkanError(fmt.Sprintf("vkBindBufferMemory %q", name), res)
	}

	if hostVisible {
		if res := vk.MapMemory(device, buffer.Memory, 0, vk.DeviceSize(size), 0, &buffer.mapped); res != vk.Success {
			buffer.Destroy()
			return nil, vulkanError(fmt.Sprintf("vkMapMemory %q", name), res)
		}
	}
	if addressable {
		buffer.address = context.KHR.bufferAddress(device, buffer.Handle)
	}
	core.LogDebug("buffer %q created: %d bytes, host visible %t", name, size, hostVisible)
	return buffer, nil
}

func (vb *VulkanBuffer) Size() uint64 {
	return vb.size
}

func (vb *VulkanBuffer) DeviceAddress() metadata.DeviceAddress {
	return vb.address
}

func (vb *VulkanBuffer) MemoryCopy(data []byte, offset uint64) error {
	if vb.mapped == nil {
		return fmt.Errorf("buffer %q is not host visible", vb.Name)
	}
	if offset+uint64(len(data)) > vb.size {
		return fmt.Errorf("buffer %q: copy of %d bytes at %d exceeds size %d", vb.Name, len(data), offset, vb.size)
	}
	if len(data) == 0 {
		return nil
	}
	dst := unsafe.Slice((*byte)(vb.mapped), vb.size)
	copy(dst[offset:], data)
	return nil
}

func (vb *VulkanBuffer) Destroy() {
	device := vb.context.Device.LogicalDevice
	if vb.mapped != nil {
		vk.UnmapMemory(device, vb.Memory)
		vb.mapped = nil
	}
	if vb.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, vb.Handle, vb.context.Allocator)
		vb.Handle = vk.NullBuffer
	}
	if vb.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vb.Memory, vb.context.Allocator)
		vb.Memory = vk.NullDeviceMemory
	}
	vb.address = 0
}
