package vulkan

/*
#cgo CFLAGS: -DVK_NO_PROTOTYPES
#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

// Entry points of VK_KHR_acceleration_structure, VK_KHR_ray_tracing_pipeline
// and VK_KHR_buffer_device_address, resolved once per logical device.
typedef struct {
	PFN_vkGetBufferDeviceAddressKHR                 getBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR     getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR            createStructure;
	PFN_vkDestroyAccelerationStructureKHR           destroyStructure;
	PFN_vkCmdBuildAccelerationStructuresKHR         cmdBuildStructures;
	PFN_vkGetAccelerationStructureDeviceAddressKHR  getStructureAddress;
	PFN_vkCreateRayTracingPipelinesKHR              createPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR        getGroupHandles;
	PFN_vkCmdTraceRaysKHR                           cmdTraceRays;
	PFN_vkUpdateDescriptorSets                      updateDescriptorSets;
} lumenKHR;

typedef struct {
	int      topLevel;
	int      update;
	int      preferTrace;
	int      opaque;
	uint64_t vertexAddress;
	uint64_t vertexStride;
	uint32_t maxVertex;
	uint64_t indexAddress;
	uint64_t instancesAddress;
	uint32_t primitiveCount;
	uint64_t scratchAddress;
} lumenGeometry;

typedef struct {
	uint32_t handleSize;
	uint32_t handleAlignment;
	uint32_t baseAlignment;
	uint32_t maxRecursion;
	uint64_t maxPrimitiveCount;
	uint64_t maxInstanceCount;
	uint32_t minScratchAlignment;
} lumenRayTracingProperties;

static int lumenLoad(void *gipa, VkInstance instance, VkDevice device, lumenKHR *k) {
	PFN_vkGetInstanceProcAddr gi = (PFN_vkGetInstanceProcAddr)gipa;
	PFN_vkGetDeviceProcAddr gd = (PFN_vkGetDeviceProcAddr)gi(instance, "vkGetDeviceProcAddr");
	if (gd == NULL) {
		return 0;
	}
	k->getBufferDeviceAddress = (PFN_vkGetBufferDeviceAddressKHR)gd(device, "vkGetBufferDeviceAddressKHR");
	k->getBuildSizes = (PFN_vkGetAccelerationStructureBuildSizesKHR)gd(device, "vkGetAccelerationStructureBuildSizesKHR");
	k->createStructure = (PFN_vkCreateAccelerationStructureKHR)gd(device, "vkCreateAccelerationStructureKHR");
	k->destroyStructure = (PFN_vkDestroyAccelerationStructureKHR)gd(device, "vkDestroyAccelerationStructureKHR");
	k->cmdBuildStructures = (PFN_vkCmdBuildAccelerationStructuresKHR)gd(device, "vkCmdBuildAccelerationStructuresKHR");
	k->getStructureAddress = (PFN_vkGetAccelerationStructureDeviceAddressKHR)gd(device, "vkGetAccelerationStructureDeviceAddressKHR");
	k->createPipelines = (PFN_vkCreateRayTracingPipelinesKHR)gd(device, "vkCreateRayTracingPipelinesKHR");
	k->getGroupHandles = (PFN_vkGetRayTracingShaderGroupHandlesKHR)gd(device, "vkGetRayTracingShaderGroupHandlesKHR");
	k->cmdTraceRays = (PFN_vkCmdTraceRaysKHR)gd(device, "vkCmdTraceRaysKHR");
	k->updateDescriptorSets = (PFN_vkUpdateDescriptorSets)gd(device, "vkUpdateDescriptorSets");
	return k->getBufferDeviceAddress && k->getBuildSizes && k->createStructure &&
		k->destroyStructure && k->cmdBuildStructures && k->getStructureAddress &&
		k->createPipelines && k->getGroupHandles && k->cmdTraceRays && k->updateDescriptorSets;
}

static int lumenQueryProperties(void *gipa, VkInstance instance, VkPhysicalDevice physical, lumenRayTracingProperties *out) {
	PFN_vkGetInstanceProcAddr gi = (PFN_vkGetInstanceProcAddr)gipa;
	PFN_vkGetPhysicalDeviceProperties2 props2 = (PFN_vkGetPhysicalDeviceProperties2)gi(instance, "vkGetPhysicalDeviceProperties2");
	if (props2 == NULL) {
		props2 = (PFN_vkGetPhysicalDeviceProperties2)gi(instance, "vkGetPhysicalDeviceProperties2KHR");
	}
	if (props2 == NULL) {
		return 0;
	}
	VkPhysicalDeviceAccelerationStructurePropertiesKHR accel;
	memset(&accel, 0, sizeof(accel));
	accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;

	VkPhysicalDeviceRayTracingPipelinePropertiesKHR pipeline;
	memset(&pipeline, 0, sizeof(pipeline));
	pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	pipeline.pNext = &accel;

	VkPhysicalDeviceProperties2 props;
	memset(&props, 0, sizeof(props));
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &pipeline;
	props2(physical, &props);

	out->handleSize = pipeline.shaderGroupHandleSize;
	out->handleAlignment = pipeline.shaderGroupHandleAlignment;
	out->baseAlignment = pipeline.shaderGroupBaseAlignment;
	out->maxRecursion = pipeline.maxRayRecursionDepth;
	out->maxPrimitiveCount = accel.maxPrimitiveCount;
	out->maxInstanceCount = accel.maxInstanceCount;
	out->minScratchAlignment = accel.minAccelerationStructureScratchOffsetAlignment;
	return 1;
}

// lumenDeviceFeatures returns the feature chain enabled at device creation.
// Released with lumenFreeDeviceFeatures once the device exists.
static void *lumenDeviceFeatures(void) {
	VkPhysicalDeviceBufferDeviceAddressFeatures *address = calloc(1, sizeof(VkPhysicalDeviceBufferDeviceAddressFeatures));
	VkPhysicalDeviceAccelerationStructureFeaturesKHR *accel = calloc(1, sizeof(VkPhysicalDeviceAccelerationStructureFeaturesKHR));
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR *pipeline = calloc(1, sizeof(VkPhysicalDeviceRayTracingPipelineFeaturesKHR));
	VkPhysicalDeviceDescriptorIndexingFeatures *indexing = calloc(1, sizeof(VkPhysicalDeviceDescriptorIndexingFeatures));

	address->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_BUFFER_DEVICE_ADDRESS_FEATURES;
	address->bufferDeviceAddress = VK_TRUE;
	address->pNext = accel;

	accel->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	accel->accelerationStructure = VK_TRUE;
	accel->pNext = pipeline;

	pipeline->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	pipeline->rayTracingPipeline = VK_TRUE;
	pipeline->pNext = indexing;

	indexing->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_DESCRIPTOR_INDEXING_FEATURES;
	indexing->runtimeDescriptorArray = VK_TRUE;
	indexing->shaderSampledImageArrayNonUniformIndexing = VK_TRUE;
	return address;
}

static void lumenFreeDeviceFeatures(void *chain) {
	VkBaseOutStructure *s = chain;
	while (s != NULL) {
		VkBaseOutStructure *next = s->pNext;
		free(s);
		s = next;
	}
}

static void *lumenAllocateFlags(void) {
	VkMemoryAllocateFlagsInfo *info = calloc(1, sizeof(VkMemoryAllocateFlagsInfo));
	info->sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	info->flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	return info;
}

static uint64_t lumenBufferAddress(lumenKHR *k, VkDevice device, VkBuffer buffer) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = buffer;
	return k->getBufferDeviceAddress(device, &info);
}

static void lumenFillBuild(const lumenGeometry *g, VkAccelerationStructureGeometryKHR *geometry, VkAccelerationStructureBuildGeometryInfoKHR *info) {
	memset(geometry, 0, sizeof(*geometry));
	geometry->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	if (g->topLevel) {
		geometry->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		geometry->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		geometry->geometry.instances.arrayOfPointers = VK_FALSE;
		geometry->geometry.instances.data.deviceAddress = g->instancesAddress;
	} else {
		geometry->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		geometry->geometry.triangles.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		geometry->geometry.triangles.vertexFormat = VK_FORMAT_R32G32B32_SFLOAT;
		geometry->geometry.triangles.vertexData.deviceAddress = g->vertexAddress;
		geometry->geometry.triangles.vertexStride = g->vertexStride;
		geometry->geometry.triangles.maxVertex = g->maxVertex;
		geometry->geometry.triangles.indexType = VK_INDEX_TYPE_UINT32;
		geometry->geometry.triangles.indexData.deviceAddress = g->indexAddress;
		if (g->opaque) {
			geometry->flags = VK_GEOMETRY_OPAQUE_BIT_KHR;
		}
	}

	memset(info, 0, sizeof(*info));
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = g->topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = g->preferTrace ? VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_TRACE_BIT_KHR : VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_BUILD_BIT_KHR;
	info->flags |= VK_BUILD_ACCELERATION_STRUCTURE_ALLOW_UPDATE_BIT_KHR;
	info->mode = g->update ? VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR : VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->geometryCount = 1;
	info->pGeometries = geometry;
	info->scratchData.deviceAddress = g->scratchAddress;
}

static void lumenBuildSizes(lumenKHR *k, VkDevice device, const lumenGeometry *g, uint64_t *structure, uint64_t *build, uint64_t *update) {
	VkAccelerationStructureGeometryKHR geometry;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	lumenFillBuild(g, &geometry, &info);

	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	uint32_t count = g->primitiveCount;
	k->getBuildSizes(device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &count, &sizes);
	*structure = sizes.accelerationStructureSize;
	*build = sizes.buildScratchSize;
	*update = sizes.updateScratchSize;
}

static VkResult lumenCreateStructure(lumenKHR *k, VkDevice device, VkBuffer storage, uint64_t size, int topLevel, VkAccelerationStructureKHR *out) {
	VkAccelerationStructureCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = storage;
	info.size = size;
	info.type = topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	return k->createStructure(device, &info, NULL, out);
}

static void lumenDestroyStructure(lumenKHR *k, VkDevice device, VkAccelerationStructureKHR structure) {
	k->destroyStructure(device, structure, NULL);
}

static uint64_t lumenStructureAddress(lumenKHR *k, VkDevice device, VkAccelerationStructureKHR structure) {
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = structure;
	return k->getStructureAddress(device, &info);
}

static void lumenCmdBuild(lumenKHR *k, VkCommandBuffer cmd, const lumenGeometry *g, VkAccelerationStructureKHR dst) {
	VkAccelerationStructureGeometryKHR geometry;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	lumenFillBuild(g, &geometry, &info);
	info.dstAccelerationStructure = dst;
	if (g->update) {
		info.srcAccelerationStructure = dst;
	}

	VkAccelerationStructureBuildRangeInfoKHR range;
	memset(&range, 0, sizeof(range));
	range.primitiveCount = g->primitiveCount;
	const VkAccelerationStructureBuildRangeInfoKHR *ranges = &range;
	k->cmdBuildStructures(cmd, 1, &info, &ranges);
}

static void lumenWriteStructure(lumenKHR *k, VkDevice device, VkDescriptorSet set, uint32_t binding, VkAccelerationStructureKHR structure) {
	VkWriteDescriptorSetAccelerationStructureKHR accel;
	memset(&accel, 0, sizeof(accel));
	accel.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	accel.accelerationStructureCount = 1;
	accel.pAccelerationStructures = &structure;

	VkWriteDescriptorSet write;
	memset(&write, 0, sizeof(write));
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &accel;
	write.dstSet = set;
	write.dstBinding = binding;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;
	k->updateDescriptorSets(device, 1, &write, 0, NULL);
}

static VkResult lumenCreatePipeline(lumenKHR *k, VkDevice device, VkPipelineLayout layout,
		VkShaderModule raygen, VkShaderModule miss, VkShaderModule closestHit, uint32_t maxRecursion, VkPipeline *out) {
	VkPipelineShaderStageCreateInfo stages[3];
	memset(stages, 0, sizeof(stages));
	VkShaderModule modules[3] = {raygen, miss, closestHit};
	VkShaderStageFlagBits kinds[3] = {VK_SHADER_STAGE_RAYGEN_BIT_KHR, VK_SHADER_STAGE_MISS_BIT_KHR, VK_SHADER_STAGE_CLOSEST_HIT_BIT_KHR};
	for (int i = 0; i < 3; i++) {
		stages[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		stages[i].stage = kinds[i];
		stages[i].module = modules[i];
		stages[i].pName = "main";
	}

	VkRayTracingShaderGroupCreateInfoKHR groups[3];
	memset(groups, 0, sizeof(groups));
	for (int i = 0; i < 3; i++) {
		groups[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		groups[i].generalShader = VK_SHADER_UNUSED_KHR;
		groups[i].closestHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].anyHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].intersectionShader = VK_SHADER_UNUSED_KHR;
	}
	groups[0].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
	groups[0].generalShader = 0;
	groups[1].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
	groups[1].generalShader = 1;
	groups[2].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_TRIANGLES_HIT_GROUP_KHR;
	groups[2].closestHitShader = 2;

	VkRayTracingPipelineCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = 3;
	info.pStages = stages;
	info.groupCount = 3;
	info.pGroups = groups;
	info.maxPipelineRayRecursionDepth = maxRecursion;
	info.layout = layout;
	return k->createPipelines(device, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
}

static VkResult lumenGroupHandles(lumenKHR *k, VkDevice device, VkPipeline pipeline, uint32_t groups, size_t size, void *data) {
	return k->getGroupHandles(device, pipeline, 0, groups, size, data);
}

static void lumenTraceRays(lumenKHR *k, VkCommandBuffer cmd, uint64_t base, uint64_t stride, uint32_t width, uint32_t height) {
	VkStridedDeviceAddressRegionKHR raygen = {base, stride, stride};
	VkStridedDeviceAddressRegionKHR miss = {base + stride, stride, stride};
	VkStridedDeviceAddressRegionKHR hit = {base + 2 * stride, stride, stride};
	VkStridedDeviceAddressRegionKHR callable = {0, 0, 0};
	k->cmdTraceRays(cmd, &raygen, &miss, &hit, &callable, width, height, 1);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Device extensions the ray tracing backend cannot run without.
var rayTracingExtensions = []string{
	"VK_KHR_acceleration_structure",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_buffer_device_address",
	"VK_KHR_deferred_host_operations",
	"VK_EXT_descriptor_indexing",
	"VK_KHR_spirv_1_4",
	"VK_KHR_shader_float_controls",
}

// Registry values the bindings do not expose.
const (
	bufferUsageShaderDeviceAddress      = 0x00020000
	bufferUsageStructureBuildInput      = 0x00080000
	bufferUsageStructureStorage         = 0x00100000
	bufferUsageShaderBindingTable       = 0x00000400
	pipelineStageStructureBuild         = 0x02000000
	pipelineStageRayTracingShader       = 0x00200000
	accessStructureRead                 = 0x00200000
	accessStructureWrite                = 0x00400000
	descriptorTypeAccelerationStructure = 1000150000
	pipelineBindPointRayTracing         = 1000165000
	shaderStageRaygen                   = 0x00000100
	shaderStageClosestHit               = 0x00000400
	shaderStageMiss                     = 0x00000800
)

/** @brief An opaque VkAccelerationStructureKHR. */
type structureHandle C.VkAccelerationStructureKHR

/** @brief The ray tracing extension entry points of a logical device. */
type khrDispatch struct {
	table C.lumenKHR
}

/** @brief Ray tracing limits reported by the physical device. */
type rayTracingProperties struct {
	HandleSize          uint32
	HandleAlignment     uint32
	BaseAlignment       uint32
	MaxRecursion        uint32
	MaxPrimitiveCount   uint64
	MaxInstanceCount    uint64
	MinScratchAlignment uint64
}

func loadKHR(procAddr unsafe.Pointer, instance vk.Instance, device vk.Device) (*khrDispatch, error) {
	k := &khrDispatch{}
	ok := C.lumenLoad(procAddr, C.VkInstance(unsafe.Pointer(instance)), C.VkDevice(unsafe.Pointer(device)), &k.table)
	if ok == 0 {
		err := fmt.Errorf("%w: ray tracing entry points are unavailable", core.ErrDeviceFailure)
		core.LogError(err.Error())
		return nil, err
	}
	return k, nil
}

func queryRayTracingProperties(procAddr unsafe.Pointer, instance vk.Instance, physical vk.PhysicalDevice) (rayTracingProperties, bool) {
	var out C.lumenRayTracingProperties
	if C.lumenQueryProperties(procAddr, C.VkInstance(unsafe.Pointer(instance)), C.VkPhysicalDevice(unsafe.Pointer(physical)), &out) == 0 {
		return rayTracingProperties{}, false
	}
	return rayTracingProperties{
		HandleSize:          uint32(out.handleSize),
		HandleAlignment:     uint32(out.handleAlignment),
		BaseAlignment:       uint32(out.baseAlignment),
		MaxRecursion:        uint32(out.maxRecursion),
		MaxPrimitiveCount:   uint64(out.maxPrimitiveCount),
		MaxInstanceCount:    uint64(out.maxInstanceCount),
		MinScratchAlignment: uint64(out.minScratchAlignment),
	}, true
}

func deviceFeatureChain() unsafe.Pointer {
	return C.lumenDeviceFeatures()
}

func freeDeviceFeatureChain(chain unsafe.Pointer) {
	C.lumenFreeDeviceFeatures(chain)
}

func allocateFlagsInfo() unsafe.Pointer {
	return C.lumenAllocateFlags()
}

func freeAllocateFlagsInfo(info unsafe.Pointer) {
	C.free(info)
}

func (k *khrDispatch) bufferAddress(device vk.Device, buffer vk.Buffer) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.lumenBufferAddress(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkBuffer(unsafe.Pointer(buffer))))
}

func geometryOf(info metadata.BuildInfo) C.lumenGeometry {
	var g C.lumenGeometry
	if info.Mode() == metadata.BuildModeUpdate {
		g.update = 1
	}
	if info.PreferFastTrace() {
		g.preferTrace = 1
	}
	g.scratchAddress = C.uint64_t(info.ScratchAddress())
	switch data := info.Geometry().(type) {
	case metadata.TrianglesData:
		g.vertexAddress = C.uint64_t(data.VertexAddress)
		g.vertexStride = C.uint64_t(data.VertexStride)
		g.maxVertex = C.uint32_t(data.MaxVertex)
		g.indexAddress = C.uint64_t(data.IndexAddress)
		g.primitiveCount = C.uint32_t(data.Triangles)
		if data.Opaque {
			g.opaque = 1
		}
	case metadata.InstancesData:
		g.topLevel = 1
		g.instancesAddress = C.uint64_t(data.InstancesAddress)
		g.primitiveCount = C.uint32_t(data.Instances)
	}
	return g
}

func (k *khrDispatch) buildSizes(device vk.Device, info metadata.BuildInfo) metadata.BuildSizes {
	g := geometryOf(info)
	var structure, build, update C.uint64_t
	C.lumenBuildSizes(&k.table, C.VkDevice(unsafe.Pointer(device)), &g, &structure, &build, &update)
	return metadata.BuildSizes{
		AccelerationStructureSize: uint64(structure),
		BuildScratchSize:          uint64(build),
		UpdateScratchSize:         uint64(update),
	}
}

func (k *khrDispatch) createStructure(device vk.Device, storage vk.Buffer, size uint64, topLevel bool) (structureHandle, vk.Result) {
	var handle C.VkAccelerationStructureKHR
	top := C.int(0)
	if topLevel {
		top = 1
	}
	res := C.lumenCreateStructure(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkBuffer(unsafe.Pointer(storage)), C.uint64_t(size), top, &handle)
	return structureHandle(handle), vk.Result(res)
}

func (k *khrDispatch) destroyStructure(device vk.Device, handle structureHandle) {
	C.lumenDestroyStructure(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkAccelerationStructureKHR(handle))
}

func (k *khrDispatch) structureAddress(device vk.Device, handle structureHandle) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.lumenStructureAddress(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkAccelerationStructureKHR(handle)))
}

func (k *khrDispatch) cmdBuild(cmd vk.CommandBuffer, dst structureHandle, info metadata.BuildInfo) {
	g := geometryOf(info)
	C.lumenCmdBuild(&k.table, C.VkCommandBuffer(unsafe.Pointer(cmd)), &g, C.VkAccelerationStructureKHR(dst))
}

func (k *khrDispatch) writeStructure(device vk.Device, set vk.DescriptorSet, binding uint32, handle structureHandle) {
	C.lumenWriteStructure(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkDescriptorSet(unsafe.Pointer(set)), C.uint32_t(binding), C.VkAccelerationStructureKHR(handle))
}

func (k *khrDispatch) createPipeline(device vk.Device, layout vk.PipelineLayout, raygen, miss, closestHit vk.ShaderModule, maxRecursion uint32) (vk.Pipeline, vk.Result) {
	var pipeline C.VkPipeline
	res := C.lumenCreatePipeline(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkPipelineLayout(unsafe.Pointer(layout)),
		C.VkShaderModule(unsafe.Pointer(raygen)), C.VkShaderModule(unsafe.Pointer(miss)), C.VkShaderModule(unsafe.Pointer(closestHit)),
		C.uint32_t(maxRecursion), &pipeline)
	return vk.Pipeline(unsafe.Pointer(pipeline)), vk.Result(res)
}

func (k *khrDispatch) groupHandles(device vk.Device, pipeline vk.Pipeline, groups uint32, data []byte) vk.Result {
	res := C.lumenGroupHandles(&k.table, C.VkDevice(unsafe.Pointer(device)), C.VkPipeline(unsafe.Pointer(pipeline)),
		C.uint32_t(groups), C.size_t(len(data)), unsafe.Pointer(&data[0]))
	return vk.Result(res)
}

func (k *khrDispatch) traceRays(cmd vk.CommandBuffer, table metadata.DeviceAddress, stride uint64, width, height uint32) {
	C.lumenTraceRays(&k.table, C.VkCommandBuffer(unsafe.Pointer(cmd)), C.uint64_t(table), C.uint64_t(stride), C.uint32_t(width), C.uint32_t(height))
}
