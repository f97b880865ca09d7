package vulkan

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanRenderer struct {
	platform    *platform.Platform
	config      config.RayTracingConfig
	FrameNumber uint64
	context     *VulkanContext

	// The ray traced image blitted into the swapchain every frame.
	output     *VulkanImage
	descriptor *VulkanDescriptorSet
	pipeline   *VulkanRayTracingPipeline

	debug bool
}

var _ renderer.RendererBackend = (*VulkanRenderer)(nil)

func New(p *platform.Platform, cfg config.RayTracingConfig, debug bool) *VulkanRenderer {
	return &VulkanRenderer{
		platform: p,
		config:   cfg,
		context: &VulkanContext{
			Allocator: nil,
			LockPool:  NewVulkanLockPool(),
			Limits: metadata.DeviceProperties{
				MaxPrimitiveCount: cfg.MaxPrimitiveCount,
				MaxInstanceCount:  uint64(cfg.MaxInstanceCount),
			},
		},
		debug: debug,
	}
}

func (vr *VulkanRenderer) Device() renderer.Device {
	return vr.context
}

func (vr *VulkanRenderer) DescriptorSet() renderer.DescriptorSet {
	return vr.descriptor
}

func (vr *VulkanRenderer) Initialize(appName string, appWidth, appHeight uint32) error {
	procAddr := vr.platform.InstanceProcAddr()
	if procAddr == nil {
		return fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrDeviceFailure)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("%w: failed to initialize vk: %s", core.ErrDeviceFailure, err)
	}
	vr.context.ProcAddr = procAddr
	vr.context.FramebufferWidth = appWidth
	vr.context.FramebufferHeight = appHeight

	if err := vr.createInstance(appName); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	if err := CreateVulkanSurface(vr.platform, vr.context); err != nil {
		return err
	}
	core.LogDebug("Vulkan surface created.")

	vr.context.Device = &VulkanDevice{GraphicsQueueIndex: -1, PresentQueueIndex: -1}
	if err := DeviceCreate(vr.context); err != nil {
		return err
	}

	khr, err := loadKHR(procAddr, vr.context.Instance, vr.context.Device.LogicalDevice)
	if err != nil {
		return err
	}
	vr.context.KHR = khr

	sc, err := SwapchainCreate(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	cb, err := NewVulkanCommandBuffer(vr.context, vr.context.Device.GraphicsCommandPool, true)
	if err != nil {
		return err
	}
	vr.context.GraphicsCommandBuffers = []*VulkanCommandBuffer{cb}

	if err := vr.createSyncObjects(); err != nil {
		return err
	}

	ds, err := NewDescriptorSet(vr.context, vr.config.MaxTextureCount)
	if err != nil {
		return err
	}
	vr.descriptor = ds

	if err := vr.createOutputImage(); err != nil {
		return err
	}

	pipeline, err := NewRayTracingPipeline(vr.context, vr.config.ShaderDir, vr.descriptor.Layout)
	if err != nil {
		return err
	}
	vr.pipeline = pipeline

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vr *VulkanRenderer) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Lumen Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := vr.platform.GetRequiredExtensionNames()
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required instance extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if vr.debug {
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		available, err := instanceLayers()
		if err != nil {
			return err
		}
		for _, layer := range layers {
			if _, ok := available[layer]; !ok {
				return fmt.Errorf("%w: required validation layer is missing: %s", core.ErrDeviceFailure, layer)
			}
		}
		core.LogInfo("All required validation layers are present.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &instance); res != vk.Success {
		return vulkanError("vkCreateInstance", res)
	}
	vr.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("%w: %s", core.ErrDeviceFailure, err)
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return fmt.Errorf("vk.CreateDebugReportCallback failed with %s", err)
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func instanceLayers() (map[string]struct{}, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	properties := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, properties); res != vk.Success {
		return nil, vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	layers := make(map[string]struct{}, count)
	for i := range properties {
		properties[i].Deref()
		layers[fixedString(properties[i].LayerName[:])] = struct{}{}
	}
	return layers, nil
}

func (vr *VulkanRenderer) createSyncObjects() error {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	device := vr.context.Device.LogicalDevice
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(device, &semaphoreCreateInfo, vr.context.Allocator, &semaphore); res != vk.Success {
		return vulkanError("vkCreateSemaphore", res)
	}
	vr.context.ImageAvailableSemaphore = semaphore
	if res := vk.CreateSemaphore(device, &semaphoreCreateInfo, vr.context.Allocator, &semaphore); res != vk.Success {
		return vulkanError("vkCreateSemaphore", res)
	}
	vr.context.QueueCompleteSemaphore = semaphore

	// Created signaled so the first frame does not wait for one that never ran.
	fence, err := NewFence(vr.context, true)
	if err != nil {
		return err
	}
	vr.context.InFlightFence = fence
	return nil
}

// createOutputImage creates the storage image the raygen shader writes,
// clears it to black and binds it.
func (vr *VulkanRenderer) createOutputImage() error {
	width, height := vr.context.Swapchain.Extent.Width, vr.context.Swapchain.Extent.Height
	usage := vk.ImageUsageStorageBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	output, err := ImageCreate(vr.context, "raytrace_output", width, height, 1, vk.FormatR8g8b8a8Unorm, vk.ImageUsageFlags(usage))
	if err != nil {
		return err
	}
	output.format = metadata.TextureFormatRGBA8Unorm

	staging, err := NewBuffer(vr.context, "raytrace_output_clear", uint64(width)*uint64(height)*4,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), true)
	if err != nil {
		output.Destroy()
		return err
	}
	defer staging.Destroy()
	// Freshly mapped memory is not guaranteed to be zero.
	if err := staging.MemoryCopy(make([]byte, staging.Size()), 0); err != nil {
		output.Destroy()
		return err
	}

	err = vr.context.OneTimeSubmit(func(cmd renderer.CommandBuffer) error {
		cb := cmd.(*VulkanCommandBuffer)
		cb.transition(output.Handle, 0, 1, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
		cb.CopyBufferToImage(staging, output)
		cb.transition(output.Handle, 0, 1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutGeneral)
		return nil
	})
	if err != nil {
		output.Destroy()
		return err
	}
	vr.descriptor.writeStorageImage(renderer.BindingOutputImage, output)
	vr.output = output
	return nil
}

// DrawFrame traces the scene into the output image and presents it. The
// frame holds the descriptor lock until the GPU is done with it, so writes
// to the descriptor set never race an executing frame.
func (vr *VulkanRenderer) DrawFrame(frame metadata.FrameData) error {
	return vr.context.LockPool.SafeCall(DescriptorManagement, func() error {
		return vr.drawFrameLocked(frame)
	})
}

func (vr *VulkanRenderer) drawFrameLocked(frame metadata.FrameData) error {
	ctx := vr.context
	if err := ctx.InFlightFence.FenceWait(ctx, math.MaxUint64); err != nil {
		return err
	}

	imageIndex, ok, err := ctx.Swapchain.SwapchainAcquireNextImageIndex(ctx, math.MaxUint64, ctx.ImageAvailableSemaphore, vk.NullFence)
	if err != nil {
		return err
	}
	if !ok {
		return vr.recreateSwapchain()
	}
	ctx.ImageIndex = imageIndex

	if err := ctx.InFlightFence.FenceReset(ctx); err != nil {
		return err
	}

	cb := ctx.GraphicsCommandBuffers[0]
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(true, false); err != nil {
		return err
	}
	vr.recordFrame(cb, ctx.Swapchain.Images[imageIndex], frame.CameraBlock())
	if err := cb.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{ctx.ImageAvailableSemaphore},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{ctx.QueueCompleteSemaphore},
	}
	err = ctx.LockPool.SafeQueueCall(uint32(ctx.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(ctx.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, ctx.InFlightFence.Handle); res != vk.Success {
			return vulkanError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cb.UpdateSubmitted()

	presented, err := ctx.Swapchain.SwapchainPresent(ctx, ctx.Device.PresentQueue, ctx.QueueCompleteSemaphore, imageIndex)
	if err != nil {
		return err
	}
	// One frame in flight: wait here so descriptor writes after this call
	// see an idle pipeline.
	if err := ctx.InFlightFence.FenceWait(ctx, math.MaxUint64); err != nil {
		return err
	}
	vr.FrameNumber++
	if !presented {
		return vr.recreateSwapchain()
	}
	return nil
}

func (vr *VulkanRenderer) recordFrame(cb *VulkanCommandBuffer, target vk.Image, camera [32]float32) {
	if vr.descriptor.TopLevelWritten() {
		cb.traceRays(vr.pipeline, vr.descriptor, &camera, vr.output.width, vr.output.height)
	}

	cb.transition(vr.output.Handle, 0, 1, vk.ImageLayoutGeneral, vk.ImageLayoutTransferSrcOptimal)
	cb.transition(target, 0, 1, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)

	extent := vr.context.Swapchain.Extent
	vk.CmdBlitImage(cb.Handle,
		vr.output.Handle, vk.ImageLayoutTransferSrcOptimal,
		target, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			SrcOffsets: [2]vk.Offset3D{{X: 0, Y: 0, Z: 0}, {X: int32(vr.output.width), Y: int32(vr.output.height), Z: 1}},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			DstOffsets: [2]vk.Offset3D{{X: 0, Y: 0, Z: 0}, {X: int32(extent.Width), Y: int32(extent.Height), Z: 1}},
		}}, vk.FilterLinear)

	cb.transition(target, 0, 1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc)
	cb.transition(vr.output.Handle, 0, 1, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutGeneral)
}

// recreateSwapchain rebuilds a swapchain the surface reported as out of date,
// along with the output image sized to it. There is no resize event path; a
// minimised window skips the rebuild.
func (vr *VulkanRenderer) recreateSwapchain() error {
	width, height := vr.platform.FramebufferSize()
	if width == 0 || height == 0 {
		core.LogDebug("recreate swapchain called when window is < 1 in a dimension. Booting.")
		return nil
	}
	if err := vr.context.WaitIdle(); err != nil {
		return err
	}

	sc, err := vr.context.Swapchain.SwapchainRecreate(vr.context, width, height)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	old := vr.output
	if err := vr.createOutputImage(); err != nil {
		return err
	}
	old.Destroy()
	core.LogInfo("swapchain out of date, rebuilt at %dx%d", sc.Extent.Width, sc.Extent.Height)
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	ctx := vr.context
	if ctx.Device == nil || ctx.Device.LogicalDevice == nil {
		return nil
	}
	if err := ctx.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}
	device := ctx.Device.LogicalDevice

	// Destroy in the opposite order of creation.
	if vr.pipeline != nil {
		vr.pipeline.Destroy()
		vr.pipeline = nil
	}
	if vr.output != nil {
		vr.output.Destroy()
		vr.output = nil
	}
	if vr.descriptor != nil {
		vr.descriptor.Destroy()
		vr.descriptor = nil
	}

	if ctx.ImageAvailableSemaphore != vk.NullSemaphore {
		vk.DestroySemaphore(device, ctx.ImageAvailableSemaphore, ctx.Allocator)
		ctx.ImageAvailableSemaphore = vk.NullSemaphore
	}
	if ctx.QueueCompleteSemaphore != vk.NullSemaphore {
		vk.DestroySemaphore(device, ctx.QueueCompleteSemaphore, ctx.Allocator)
		ctx.QueueCompleteSemaphore = vk.NullSemaphore
	}
	if ctx.InFlightFence != nil {
		ctx.InFlightFence.FenceDestroy(ctx)
		ctx.InFlightFence = nil
	}

	for _, cb := range ctx.GraphicsCommandBuffers {
		if cb.Handle != nil {
			cb.Free(ctx.Device.GraphicsCommandPool)
		}
	}
	ctx.GraphicsCommandBuffers = nil

	if ctx.Swapchain != nil {
		ctx.Swapchain.SwapchainDestroy(ctx)
		ctx.Swapchain = nil
	}

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(ctx)

	core.LogDebug("Destroying Vulkan surface...")
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}

	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(ctx.Instance, ctx.Allocator)
	ctx.Instance = nil
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
