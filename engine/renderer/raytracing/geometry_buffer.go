package raytracing

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const geometryUsage = metadata.BufferUsageStorage |
	metadata.BufferUsageShaderDeviceAddress |
	metadata.BufferUsageAccelerationStructureBuildInput |
	metadata.BufferUsageTransferDst

// GeometryBuffer holds the device resident vertex and index buffers of one
// mesh in object space. The data reaches the device through staging buffers
// that are copied by RecordUpload and freed by ReleaseStaging.
type GeometryBuffer struct {
	name        string
	vertexCount uint32
	indexCount  uint32

	vertices renderer.Buffer
	indices  renderer.Buffer

	staging []stagedCopy
}

type stagedCopy struct {
	src  renderer.Buffer
	dst  renderer.Buffer
	size uint64
}

func NewGeometryBuffer(device renderer.Device, mesh *metadata.Mesh) (*GeometryBuffer, error) {
	if len(mesh.Vertices) == 0 || len(mesh.Indices) < 3 {
		return nil, fmt.Errorf("mesh %q: %w: %d vertices, %d indices", mesh.Name, core.ErrInvalidMesh, len(mesh.Vertices), len(mesh.Indices))
	}
	gb := &GeometryBuffer{
		name:        mesh.Name,
		vertexCount: uint32(len(mesh.Vertices)),
		indexCount:  uint32(len(mesh.Indices)),
	}

	var err error
	if gb.vertices, err = gb.stage(device, "vertices", packVertices(mesh.Vertices)); err != nil {
		gb.Destroy()
		return nil, err
	}
	if gb.indices, err = gb.stage(device, "indices", packIndices(mesh.Indices)); err != nil {
		gb.Destroy()
		return nil, err
	}
	return gb, nil
}

func (gb *GeometryBuffer) stage(device renderer.Device, what string, data []byte) (renderer.Buffer, error) {
	size := uint64(len(data))
	staging, err := device.CreateBuffer(gb.name+"/"+what+"/staging", size, metadata.BufferUsageTransferSrc, metadata.MemoryUsageCPUToGPU)
	if err != nil {
		core.LogError("%s", err.Error())
		return nil, err
	}
	if err := staging.MemoryCopy(data, 0); err != nil {
		staging.Destroy()
		core.LogError("%s", err.Error())
		return nil, err
	}
	dst, err := device.CreateBuffer(gb.name+"/"+what, size, geometryUsage, metadata.MemoryUsageGPUOnly)
	if err != nil {
		staging.Destroy()
		core.LogError("%s", err.Error())
		return nil, err
	}
	gb.staging = append(gb.staging, stagedCopy{src: staging, dst: dst, size: size})
	return dst, nil
}

// RecordUpload records the staging to device copies.
func (gb *GeometryBuffer) RecordUpload(cmd renderer.CommandBuffer) {
	for _, c := range gb.staging {
		cmd.CopyBuffer(c.src, c.dst, c.size)
	}
}

// ReleaseStaging frees the staging buffers once the upload has completed.
func (gb *GeometryBuffer) ReleaseStaging() {
	for _, c := range gb.staging {
		c.src.Destroy()
	}
	gb.staging = nil
}

func (gb *GeometryBuffer) Name() string        { return gb.name }
func (gb *GeometryBuffer) VertexCount() uint32 { return gb.vertexCount }
func (gb *GeometryBuffer) IndexCount() uint32  { return gb.indexCount }

func (gb *GeometryBuffer) VertexAddress() metadata.DeviceAddress { return gb.vertices.DeviceAddress() }
func (gb *GeometryBuffer) IndexAddress() metadata.DeviceAddress  { return gb.indices.DeviceAddress() }

func (gb *GeometryBuffer) Destroy() {
	gb.ReleaseStaging()
	for _, b := range []renderer.Buffer{gb.vertices, gb.indices} {
		if b != nil {
			b.Destroy()
		}
	}
	gb.vertices, gb.indices = nil, nil
}

func packVertices(vertices []math.Vertex3D) []byte {
	out := make([]byte, len(vertices)*math.Vertex3DSize)
	for i, v := range vertices {
		o := out[i*math.Vertex3DSize:]
		putFloats(o, v.Position[:]...)
		putFloats(o[12:], v.Normal[:]...)
		putFloats(o[24:], v.Texcoord[:]...)
	}
	return out
}

func packIndices(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}

func putFloats(dst []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(dst[i*4:], stdmath.Float32bits(f))
	}
}

func putUint32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func putUint64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
