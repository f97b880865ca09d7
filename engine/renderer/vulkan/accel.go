package vulkan

import (
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VulkanAccelerationStructure lives inside a storage buffer owned by the
// caller. Destroy releases the structure, never the buffer.
type VulkanAccelerationStructure struct {
	context *VulkanContext

	handle  structureHandle
	kind    metadata.AccelerationStructureType
	address metadata.DeviceAddress
	storage *VulkanBuffer
}

func (as *VulkanAccelerationStructure) Type() metadata.AccelerationStructureType {
	return as.kind
}

func (as *VulkanAccelerationStructure) DeviceAddress() metadata.DeviceAddress {
	return as.address
}

func (as *VulkanAccelerationStructure) Destroy() {
	if as.address == 0 {
		return
	}
	as.context.LockPool.SafeCall(StructureManagement, func() error {
		as.context.KHR.destroyStructure(as.context.Device.LogicalDevice, as.handle)
		return nil
	})
	as.address = 0
	as.storage = nil
}
