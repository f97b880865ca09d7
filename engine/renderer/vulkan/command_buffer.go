package vulkan

import (
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	context *VulkanContext

	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		context: context,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.LockPool.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return vulkanError("vkAllocateCommandBuffers", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(pool vk.CommandPool) {
	v.context.LockPool.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isSimultaneousUse bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		return vulkanError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return vulkanError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return vulkanError("vkResetCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

/**
 * Allocates and begins recording a single use command buffer.
 */
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false); err != nil {
		cb.Free(pool)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to the queue, waits on a fence for completion and
 * frees the command buffer.
 */
func (v *VulkanCommandBuffer) EndSingleUse(pool vk.CommandPool, queue vk.Queue, queueFamily uint32) error {
	defer v.Free(pool)

	if err := v.End(); err != nil {
		return err
	}

	fence, err := NewFence(v.context, false)
	if err != nil {
		return err
	}
	defer fence.FenceDestroy(v.context)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	err = v.context.LockPool.SafeQueueCall(queueFamily, func() error {
		if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
			return vulkanError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.UpdateSubmitted()

	return fence.FenceWait(v.context, math.MaxUint64)
}

// renderer.CommandBuffer

func (v *VulkanCommandBuffer) CopyBuffer(src, dst renderer.Buffer, size uint64) {
	s, d := src.(*VulkanBuffer), dst.(*VulkanBuffer)
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}})
}

func (v *VulkanCommandBuffer) BuildAccelerationStructure(dst renderer.AccelerationStructure, info metadata.BuildInfo) {
	structure := dst.(*VulkanAccelerationStructure)
	v.context.KHR.cmdBuild(v.Handle, structure.handle, info)
}

func (v *VulkanCommandBuffer) AccelerationStructureBarrier() {
	stages := vk.PipelineStageFlags(vk.PipelineStageTransferBit | pipelineStageStructureBuild)
	vk.CmdPipelineBarrier(v.Handle,
		stages,
		vk.PipelineStageFlags(pipelineStageStructureBuild|pipelineStageRayTracingShader),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit | accessStructureWrite),
			DstAccessMask: vk.AccessFlags(accessStructureRead | accessStructureWrite),
		}}, 0, nil, 0, nil)
}

func imageLayout(layout renderer.ImageLayout) vk.ImageLayout {
	switch layout {
	case renderer.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case renderer.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	default:
		return vk.ImageLayoutUndefined
	}
}

func (v *VulkanCommandBuffer) TransitionImage(image renderer.Image, from, to renderer.ImageLayout) {
	img := image.(*VulkanImage)
	v.transition(img.Handle, 0, img.mipLevels, imageLayout(from), imageLayout(to))
}

// transition moves levels [base, base+count) of handle between layouts with
// the access masks the pair implies.
func (v *VulkanCommandBuffer) transition(handle vk.Image, base, count uint32, from, to vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   base,
			LevelCount:     count,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	srcStage := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	dstStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	switch {
	case to == vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		if from == vk.ImageLayoutGeneral {
			srcStage = vk.PipelineStageFlags(pipelineStageRayTracingShader)
			barrier.SrcAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit)
		}
	case to == vk.ImageLayoutTransferSrcOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit | vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		srcStage = vk.PipelineStageFlags(pipelineStageRayTracingShader | vk.PipelineStageTransferBit)
	case to == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit | vk.AccessTransferReadBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(pipelineStageRayTracingShader)
	case to == vk.ImageLayoutGeneral:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(pipelineStageRayTracingShader)
	case to == vk.ImageLayoutPresentSrc:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	default:
		core.LogWarn("unsupported layout transition %d -> %d", from, to)
	}

	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src renderer.Buffer, dst renderer.Image) {
	buffer, image := src.(*VulkanBuffer), dst.(*VulkanImage)
	vk.CmdCopyBufferToImage(v.Handle, buffer.Handle, image.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{
			Width:  image.width,
			Height: image.height,
			Depth:  1,
		},
	}})
}

// GenerateMipmaps expects every level in transfer-dst layout with level 0
// holding the uploaded pixels.
func (v *VulkanCommandBuffer) GenerateMipmaps(image renderer.Image) {
	img := image.(*VulkanImage)
	width, height := int32(img.width), int32(img.height)

	for i := uint32(1); i < img.mipLevels; i++ {
		v.transition(img.Handle, i-1, 1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal)

		nextWidth, nextHeight := max(width/2, 1), max(height/2, 1)
		vk.CmdBlitImage(v.Handle,
			img.Handle, vk.ImageLayoutTransferSrcOptimal,
			img.Handle, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{{
				SrcSubresource: vk.ImageSubresourceLayers{
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					MipLevel:   i - 1,
					LayerCount: 1,
				},
				SrcOffsets: [2]vk.Offset3D{{X: 0, Y: 0, Z: 0}, {X: width, Y: height, Z: 1}},
				DstSubresource: vk.ImageSubresourceLayers{
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					MipLevel:   i,
					LayerCount: 1,
				},
				DstOffsets: [2]vk.Offset3D{{X: 0, Y: 0, Z: 0}, {X: nextWidth, Y: nextHeight, Z: 1}},
			}}, vk.FilterLinear)

		v.transition(img.Handle, i-1, 1, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
		width, height = nextWidth, nextHeight
	}
	// the last level was only ever written
	v.transition(img.Handle, img.mipLevels-1, 1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
}

// traceRays records a dispatch of the bound ray tracing pipeline.
func (v *VulkanCommandBuffer) traceRays(pipeline *VulkanRayTracingPipeline, set *VulkanDescriptorSet, camera *[32]float32, width, height uint32) {
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPoint(pipelineBindPointRayTracing), pipeline.Handle)
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPoint(pipelineBindPointRayTracing), pipeline.Layout,
		0, 1, []vk.DescriptorSet{set.Handle}, 0, nil)
	vk.CmdPushConstants(v.Handle, pipeline.Layout, vk.ShaderStageFlags(shaderStageRaygen),
		0, metadata.CameraPushConstantSize, unsafe.Pointer(camera))
	v.context.KHR.traceRays(v.Handle, pipeline.table, pipeline.stride, width, height)
}

func (v *VulkanCommandBuffer) String() string {
	return fmt.Sprintf("VulkanCommandBuffer(state=%d)", v.State)
}
