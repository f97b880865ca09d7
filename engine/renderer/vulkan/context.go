package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface
	// vkGetInstanceProcAddr as handed out by the windowing layer.
	ProcAddr unsafe.Pointer

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain *VulkanSwapchain

	// one command buffer per swapchain image
	GraphicsCommandBuffers []*VulkanCommandBuffer

	ImageAvailableSemaphore vk.Semaphore
	QueueCompleteSemaphore  vk.Semaphore
	// A single frame is in flight at any time.
	InFlightFence *VulkanFence

	ImageIndex uint32

	// Ray tracing extension entry points and limits.
	KHR        *khrDispatch
	RayTracing rayTracingProperties
	// Configured caps below the device limits. Zero fields keep the device value.
	Limits metadata.DeviceProperties

	LockPool *VulkanLockPool
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocate backs requirements with memory of the given properties. Device
// addressable memory is requested when deviceAddress is set.
func (vc *VulkanContext) allocate(requirements vk.MemoryRequirements, properties vk.MemoryPropertyFlagBits, deviceAddress bool) (vk.DeviceMemory, error) {
	index := vc.FindMemoryIndex(requirements.MemoryTypeBits, uint32(properties))
	if index < 0 {
		return nil, vulkanError("find memory type", vk.ErrorOutOfDeviceMemory)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	if deviceAddress {
		flags := allocateFlagsInfo()
		defer freeAllocateFlagsInfo(flags)
		info.PNext = flags
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &memory); res != vk.Success {
		return nil, vulkanError("vkAllocateMemory", res)
	}
	return memory, nil
}
