package metadata

/** @brief Usage flags of a device buffer. */
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

/** @brief Where the memory backing a buffer lives. */
type MemoryUsage int

const (
	/** @brief Device local memory, not mappable. */
	MemoryUsageGPUOnly MemoryUsage = iota
	/** @brief Host visible and coherent memory, used for staging and frequently rewritten data. */
	MemoryUsageCPUToGPU
)

/** @brief A GPU virtual address. Zero is never a valid address. */
type DeviceAddress uint64
