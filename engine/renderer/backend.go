package renderer

import "github.com/spaghettifunk/lumen/engine/renderer/metadata"

// Descriptor bindings of the ray tracing pipeline layout.
const (
	BindingTopLevelStructure uint32 = iota
	BindingOutputImage
	BindingInstanceDescriptions
	BindingMaterials
	BindingTextures
)

// MaxBindlessTextures bounds the texture array at BindingTextures.
const MaxBindlessTextures uint32 = 1024

type RendererType uint8

const (
	Vulkan RendererType = iota
)

// RendererBackend is the frame level surface of a GPU backend.
type RendererBackend interface {
	Initialize(appName string, appWidth, appHeight uint32) error
	Shutdown() error
	// DrawFrame waits for the previous frame, traces into the output image
	// from the frame's camera, copies it to the swapchain and presents.
	DrawFrame(frame metadata.FrameData) error
	Device() Device
	DescriptorSet() DescriptorSet
}

// Device is the resource and submission side of the GPU.
type Device interface {
	Properties() metadata.DeviceProperties
	CreateBuffer(name string, size uint64, usage metadata.BufferUsage, memory metadata.MemoryUsage) (Buffer, error)
	GetAccelerationStructureBuildSizes(info metadata.BuildInfo) (metadata.BuildSizes, error)
	CreateAccelerationStructure(structureType metadata.AccelerationStructureType, storage Buffer, size uint64) (AccelerationStructure, error)
	CreateImage(name string, width, height, mipLevels uint32, format metadata.TextureFormat) (Image, error)
	FormatSupportsBlit(format metadata.TextureFormat) bool
	// OneTimeSubmit records into a fresh command buffer, submits it and
	// blocks until the GPU has finished executing it.
	OneTimeSubmit(record func(cmd CommandBuffer) error) error
	WaitIdle() error
}

type Buffer interface {
	Size() uint64
	// MemoryCopy writes into host visible memory at the given offset.
	MemoryCopy(data []byte, offset uint64) error
	DeviceAddress() metadata.DeviceAddress
	Destroy()
}

type AccelerationStructure interface {
	Type() metadata.AccelerationStructureType
	DeviceAddress() metadata.DeviceAddress
	Destroy()
}

type Image interface {
	Width() uint32
	Height() uint32
	MipLevels() uint32
	Format() metadata.TextureFormat
	Destroy()
}

type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDst
	ImageLayoutShaderReadOnly
)

// CommandBuffer records work for OneTimeSubmit.
type CommandBuffer interface {
	CopyBuffer(src, dst Buffer, size uint64)
	BuildAccelerationStructure(dst AccelerationStructure, info metadata.BuildInfo)
	// AccelerationStructureBarrier orders previous builds and transfers
	// before later builds read their results.
	AccelerationStructureBarrier()
	TransitionImage(image Image, from, to ImageLayout)
	CopyBufferToImage(src Buffer, dst Image)
	// GenerateMipmaps blits the chain down from level 0 and leaves every
	// level in ImageLayoutShaderReadOnly.
	GenerateMipmaps(image Image)
}

type DescriptorSet interface {
	WriteAccelerationStructure(binding uint32, structure AccelerationStructure) error
	WriteStorageBuffer(binding uint32, buffer Buffer) error
	WriteSampledImages(binding uint32, images []Image) error
}
