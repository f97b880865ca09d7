package systems

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type MaterialSystemConfig struct {
	/** @brief The minimum number of entries in the material buffer. Empty scenes still bind a valid buffer. */
	MinMaterialCount uint32
}

// MaterialSystem keeps the scene material table. Batches are appended with
// their indices shifted past the materials already present.
type MaterialSystem struct {
	Config    *MaterialSystemConfig
	device    renderer.Device
	materials []metadata.Material
}

func NewMaterialSystem(config *MaterialSystemConfig, device renderer.Device) (*MaterialSystem, error) {
	if config.MinMaterialCount == 0 {
		config.MinMaterialCount = 1
	}
	return &MaterialSystem{Config: config, device: device}, nil
}

func (ms *MaterialSystem) Materials() []metadata.Material {
	return append([]metadata.Material(nil), ms.materials...)
}

func (ms *MaterialSystem) Count() int {
	return len(ms.materials)
}

// Concat returns the table that results from appending batch to base. Texture
// references of the batch are shifted by textureOffset. The second return
// value is the material offset the batch's meshes must apply.
func Concat(base, batch []metadata.Material, textureOffset int32) ([]metadata.Material, int32) {
	offset := int32(len(base))
	out := make([]metadata.Material, 0, len(base)+len(batch))
	out = append(out, base...)
	for _, m := range batch {
		out = append(out, m.WithTextureOffset(textureOffset))
	}
	return out, offset
}

func (ms *MaterialSystem) Set(materials []metadata.Material) {
	ms.materials = materials
}

// CreateBuffer packs materials into a new host visible storage buffer padded
// with default materials up to the configured minimum.
func (ms *MaterialSystem) CreateBuffer(materials []metadata.Material) (renderer.Buffer, error) {
	count := max(uint32(len(materials)), ms.Config.MinMaterialCount)
	padded := make([]metadata.Material, count)
	copy(padded, materials)
	for i := len(materials); i < int(count); i++ {
		padded[i] = metadata.DefaultMaterial()
	}

	var data bytes.Buffer
	if err := binary.Write(&data, binary.LittleEndian, padded); err != nil {
		return nil, fmt.Errorf("packing materials: %w", err)
	}
	buf, err := ms.device.CreateBuffer("materials", uint64(data.Len()), metadata.BufferUsageStorage, metadata.MemoryUsageCPUToGPU)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if err := buf.MemoryCopy(data.Bytes(), 0); err != nil {
		buf.Destroy()
		core.LogError(err.Error())
		return nil, err
	}
	return buf, nil
}

// OffsetMeshes returns copies of meshes with material indices shifted by
// offset. Meshes without a material keep -1.
func OffsetMeshes(meshes []*metadata.Mesh, offset int32) []*metadata.Mesh {
	out := make([]*metadata.Mesh, len(meshes))
	for i, m := range meshes {
		c := *m
		if c.MaterialIndex >= 0 {
			c.MaterialIndex += offset
		}
		out[i] = &c
	}
	return out
}
