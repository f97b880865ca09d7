package raytracing

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// geometryDescriptionSize is vertex and index address plus the material
// index, padded to 32 bytes. Geometry stays in object space; the instance
// record carries the object-to-world transform.
const geometryDescriptionSize = 32

// BottomLevelStructure is the acceleration structure over one mesh.
type BottomLevelStructure struct {
	device   renderer.Device
	diag     *diagnostics.Service
	label    string
	geometry *GeometryBuffer

	materialIndex int32
	transform     math.Affine3x4
	triangles     uint32
	info          metadata.BuildInfo

	description renderer.Buffer
	scratch     renderer.Buffer
	result      renderer.Buffer
	handle      renderer.AccelerationStructure
	built       bool
}

// NewBottomLevelStructure sizes and allocates the structure for geometry.
// Triangles past the device limit are dropped.
func NewBottomLevelStructure(device renderer.Device, diag *diagnostics.Service, geometry *GeometryBuffer, mesh *metadata.Mesh) (*BottomLevelStructure, error) {
	props := device.Properties()
	triangles := uint64(geometry.IndexCount() / 3)
	if triangles > props.MaxPrimitiveCount {
		core.LogWarn("mesh %q has %d triangles, device limit is %d; dropping %d", mesh.Name, triangles, props.MaxPrimitiveCount, triangles-props.MaxPrimitiveCount)
		triangles = props.MaxPrimitiveCount
	}

	b := &BottomLevelStructure{
		device:        device,
		diag:          diag,
		label:         mesh.Name,
		geometry:      geometry,
		materialIndex: mesh.MaterialIndex,
		transform:     mesh.Transform,
		triangles:     uint32(triangles),
	}

	if err := b.allocate(); err != nil {
		b.destroyBuffers()
		return nil, err
	}
	return b, nil
}

func (b *BottomLevelStructure) allocate() error {
	var err error
	b.description, err = b.device.CreateBuffer(b.label+"/description", geometryDescriptionSize,
		metadata.BufferUsageStorage|metadata.BufferUsageShaderDeviceAddress, metadata.MemoryUsageCPUToGPU)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}
	desc := make([]byte, geometryDescriptionSize)
	binary.LittleEndian.PutUint64(desc[0:], uint64(b.geometry.VertexAddress()))
	binary.LittleEndian.PutUint64(desc[8:], uint64(b.geometry.IndexAddress()))
	binary.LittleEndian.PutUint32(desc[16:], uint32(b.materialIndex))
	if err := b.description.MemoryCopy(desc, 0); err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	geometry := metadata.TrianglesData{
		VertexAddress: b.geometry.VertexAddress(),
		VertexStride:  math.Vertex3DSize,
		MaxVertex:     b.geometry.VertexCount() - 1,
		IndexAddress:  b.geometry.IndexAddress(),
		Triangles:     b.triangles,
		Opaque:        true,
	}
	sizingInfo, err := metadata.NewBuildInfoBuilder(metadata.AccelerationStructureTypeBottomLevel).
		Geometry(geometry).
		Build()
	if err != nil {
		return err
	}
	sizes, err := b.device.GetAccelerationStructureBuildSizes(sizingInfo)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	scratch, scratchAddress, err := allocateScratch(b.device, b.label+"/scratch", sizes.BuildScratchSize)
	if err != nil {
		return err
	}
	b.scratch = scratch

	b.result, err = b.device.CreateBuffer(b.label+"/blas", sizes.AccelerationStructureSize,
		metadata.BufferUsageAccelerationStructureStorage|metadata.BufferUsageShaderDeviceAddress, metadata.MemoryUsageGPUOnly)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}
	b.handle, err = b.device.CreateAccelerationStructure(metadata.AccelerationStructureTypeBottomLevel, b.result, sizes.AccelerationStructureSize)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	b.info, err = metadata.NewBuildInfoBuilder(metadata.AccelerationStructureTypeBottomLevel).
		Geometry(geometry).
		Scratch(scratchAddress).
		Build()
	return err
}

// allocateScratch over-allocates by the device alignment and returns the
// first aligned address inside the buffer.
func allocateScratch(device renderer.Device, name string, size uint64) (renderer.Buffer, metadata.DeviceAddress, error) {
	align := device.Properties().MinScratchAlignment
	scratch, err := device.CreateBuffer(name, size+align,
		metadata.BufferUsageStorage|metadata.BufferUsageShaderDeviceAddress, metadata.MemoryUsageGPUOnly)
	if err != nil {
		core.LogError("%s", err.Error())
		return nil, 0, err
	}
	return scratch, metadata.DeviceAddress(math.AlignUp(uint64(scratch.DeviceAddress()), align)), nil
}

// Record records the build into cmd. The structure is usable once the
// submission containing cmd has completed and Complete has been called.
func (b *BottomLevelStructure) Record(cmd renderer.CommandBuffer) {
	cmd.BuildAccelerationStructure(b.handle, b.info)
}

// Complete marks the build as finished and frees the scratch memory.
func (b *BottomLevelStructure) Complete(generation uint64) {
	b.built = true
	if b.scratch != nil {
		b.scratch.Destroy()
		b.scratch = nil
	}
	b.geometry.ReleaseStaging()
	if b.diag != nil {
		if err := b.diag.RegisterStructure(diagnostics.Structure{
			Label:      b.label,
			Type:       metadata.AccelerationStructureTypeBottomLevel,
			Address:    b.handle.DeviceAddress(),
			Generation: generation,
		}); err != nil {
			core.LogWarn("blas %q not tracked: %s", b.label, err.Error())
		}
	}
}

// DeviceAddress is only available after the build completed.
func (b *BottomLevelStructure) DeviceAddress() (metadata.DeviceAddress, error) {
	if !b.built {
		return 0, fmt.Errorf("blas %q: %w", b.label, core.ErrNotBuilt)
	}
	return b.handle.DeviceAddress(), nil
}

// reference is the address written into instance records. It is stable from
// creation on, before the build has executed.
func (b *BottomLevelStructure) reference() metadata.DeviceAddress {
	return b.handle.DeviceAddress()
}

func (b *BottomLevelStructure) Label() string             { return b.label }
func (b *BottomLevelStructure) Triangles() uint32         { return b.triangles }
func (b *BottomLevelStructure) MaterialIndex() int32      { return b.materialIndex }
func (b *BottomLevelStructure) Transform() math.Affine3x4 { return b.transform }
func (b *BottomLevelStructure) Geometry() *GeometryBuffer { return b.geometry }
func (b *BottomLevelStructure) Built() bool               { return b.built }

func (b *BottomLevelStructure) instanceDescription() metadata.InstanceDescription {
	return metadata.InstanceDescription{
		VertexAddress:   b.geometry.VertexAddress(),
		IndexAddress:    b.geometry.IndexAddress(),
		GeometryAddress: b.description.DeviceAddress(),
		MaterialIndex:   b.materialIndex,
	}
}

func (b *BottomLevelStructure) destroyBuffers() {
	if b.handle != nil {
		if b.diag != nil {
			b.diag.ForgetStructure(b.handle.DeviceAddress())
		}
		b.handle.Destroy()
		b.handle = nil
	}
	for _, buf := range []*renderer.Buffer{&b.scratch, &b.result, &b.description} {
		if *buf != nil {
			(*buf).Destroy()
			*buf = nil
		}
	}
}

// Destroy releases the structure together with its geometry buffers.
func (b *BottomLevelStructure) Destroy() {
	b.destroyBuffers()
	if b.geometry != nil {
		b.geometry.Destroy()
		b.geometry = nil
	}
	b.built = false
}
