package vulkan

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/** @brief The compiled shader stages of the ray tracing pipeline, in group order. */
var rayTracingShaderFiles = [3]string{
	"raytrace.rgen.spv",
	"raytrace.rmiss.spv",
	"raytrace.rchit.spv",
}

/**
 * @brief Holds the ray tracing pipeline, its layout and the shader binding
 * table. The table has one record per group: raygen, miss and the
 * triangle hit group, each stride bytes apart.
 */
type VulkanRayTracingPipeline struct {
	context *VulkanContext

	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	Layout vk.PipelineLayout

	/** @brief The shader binding table. */
	sbt *VulkanBuffer
	/** @brief The aligned device address of the first record. */
	table metadata.DeviceAddress
	/** @brief The distance in bytes between two records of the table. */
	stride uint64
}

/**
 * @brief Reads a SPIR-V binary and creates a shader module from it.
 */
func NewShaderModule(context *VulkanContext, path string) (vk.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return vk.NullShaderModule, fmt.Errorf("unable to read shader module: %w", err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("shader module %q: %d bytes is not a SPIR-V binary", path, len(code))
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return vk.NullShaderModule, vulkanError(fmt.Sprintf("vkCreateShaderModule %q", path), res)
	}
	return module, nil
}

/**
 * @brief Creates the ray tracing pipeline over the given descriptor set
 * layout and fills its shader binding table.
 * @param shaderDir The directory holding the compiled stages.
 */
func NewRayTracingPipeline(context *VulkanContext, shaderDir string, setLayout vk.DescriptorSetLayout) (*VulkanRayTracingPipeline, error) {
	p := &VulkanRayTracingPipeline{context: context}
	device := context.Device.LogicalDevice

	var modules [3]vk.ShaderModule
	defer func() {
		// Modules are not needed once the pipeline exists.
		for _, m := range modules {
			if m != vk.NullShaderModule {
				vk.DestroyShaderModule(device, m, context.Allocator)
			}
		}
	}()
	for i, name := range rayTracingShaderFiles {
		module, err := NewShaderModule(context, filepath.Join(shaderDir, name))
		if err != nil {
			return nil, err
		}
		modules[i] = module
	}

	pushConstantRanges := []vk.PushConstantRange{
		// inverse view, inverse projection
		{
			StageFlags: vk.ShaderStageFlags(shaderStageRaygen),
			Offset:     0,
			Size:       metadata.CameraPushConstantSize,
		},
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(pushConstantRanges)),
		PPushConstantRanges:    pushConstantRanges,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(device, &layoutInfo, context.Allocator, &layout); res != vk.Success {
		return nil, vulkanError("vkCreatePipelineLayout", res)
	}
	p.Layout = layout

	recursion := min(uint32(1), context.RayTracing.MaxRecursion)
	handle, res := context.KHR.createPipeline(device, p.Layout, modules[0], modules[1], modules[2], recursion)
	if res != vk.Success {
		p.Destroy()
		return nil, vulkanError("vkCreateRayTracingPipelinesKHR", res)
	}
	p.Handle = handle

	if err := p.createShaderBindingTable(); err != nil {
		p.Destroy()
		return nil, err
	}
	core.LogInfo("Ray tracing pipeline created.")
	return p, nil
}

func (p *VulkanRayTracingPipeline) createShaderBindingTable() error {
	const groups = uint32(len(rayTracingShaderFiles))
	props := p.context.RayTracing

	handleSize := uint64(props.HandleSize)
	p.stride = math.AlignUp(math.AlignUp(handleSize, uint64(props.HandleAlignment)), uint64(props.BaseAlignment))

	handles := make([]byte, handleSize*uint64(groups))
	if res := p.context.KHR.groupHandles(p.context.Device.LogicalDevice, p.Handle, groups, handles); res != vk.Success {
		return vulkanError("vkGetRayTracingShaderGroupHandlesKHR", res)
	}

	usage := vk.BufferUsageFlags(bufferUsageShaderBindingTable | bufferUsageShaderDeviceAddress)
	// Base alignment of slack lets the table start on an aligned address.
	sbt, err := NewBuffer(p.context, "shader_binding_table", p.stride*uint64(groups)+uint64(props.BaseAlignment), usage, true)
	if err != nil {
		return err
	}
	p.sbt = sbt

	base := math.AlignUp(uint64(sbt.DeviceAddress()), uint64(props.BaseAlignment)) - uint64(sbt.DeviceAddress())
	for i := uint64(0); i < uint64(groups); i++ {
		if err := sbt.MemoryCopy(handles[i*handleSize:(i+1)*handleSize], base+i*p.stride); err != nil {
			return err
		}
	}
	p.table = sbt.DeviceAddress() + metadata.DeviceAddress(base)
	return nil
}

func (p *VulkanRayTracingPipeline) Destroy() {
	device := p.context.Device.LogicalDevice
	if p.sbt != nil {
		p.sbt.Destroy()
		p.sbt = nil
	}
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(device, p.Handle, p.context.Allocator)
		p.Handle = vk.NullPipeline
	}
	if p.Layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, p.Layout, p.context.Allocator)
		p.Layout = vk.NullPipelineLayout
	}
}
