package raytracing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// SceneStructures is the output of a scene build.
type SceneStructures struct {
	BLASes []*BottomLevelStructure
	TLAS   *TopLevelStructure
}

// Destroy releases the top level structure and every bottom level one.
func (s *SceneStructures) Destroy() {
	if s.TLAS != nil {
		s.TLAS.Destroy()
	}
	for _, b := range s.BLASes {
		b.Destroy()
	}
}

// Builder turns meshes into acceleration structures. Each call uploads the
// geometry and builds every structure inside one blocking submission.
type Builder struct {
	device renderer.Device
	diag   *diagnostics.Service
}

func NewBuilder(device renderer.Device, diag *diagnostics.Service) *Builder {
	return &Builder{device: device, diag: diag}
}

// Build creates one bottom level structure per mesh and a new top level
// structure over placements. Without placements every mesh is instanced
// once at its own transform; a placement transform is applied on top of the
// mesh transform. On return staging and scratch memory is freed
// and every device address is valid.
func (b *Builder) Build(meshes []*metadata.Mesh, placements []metadata.Placement, generation uint64) (*SceneStructures, error) {
	blases, err := b.createBottomLevel(meshes)
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, max(len(placements), len(blases)))
	if len(placements) == 0 {
		for _, blas := range blases {
			instances = append(instances, DefaultInstance(blas))
		}
	} else {
		for _, p := range placements {
			if p.Mesh < 0 || p.Mesh >= len(blases) {
				destroyAll(blases)
				return nil, fmt.Errorf("placement references mesh %d of %d: %w", p.Mesh, len(blases), core.ErrInvalidMesh)
			}
			world := p.Transform.Mat4().Mul4(blases[p.Mesh].Transform().Mat4())
			instances = append(instances, Instance{BLAS: blases[p.Mesh], Transform: math.ToAffine3x4(world), Mask: p.Mask, SBTOffset: p.SBTOffset})
		}
	}

	label := fmt.Sprintf("scene-%d-%s", generation, uuid.NewString()[:8])
	tlas := NewTopLevelStructure(b.device, b.diag, label, generation)
	if err := tlas.PrepareBuild(instances); err != nil {
		destroyAll(blases)
		return nil, err
	}

	err = b.device.OneTimeSubmit(func(cmd renderer.CommandBuffer) error {
		recordBottomLevel(cmd, blases)
		cmd.AccelerationStructureBarrier()
		return tlas.Record(cmd)
	})
	if err != nil {
		tlas.Destroy()
		destroyAll(blases)
		return nil, b.fail("scene build", err)
	}

	for _, blas := range blases {
		blas.Complete(generation)
	}
	tlas.Complete()
	core.LogDebug("built %d blas and tlas %q with %d instances", len(blases), label, tlas.InstanceCount())
	return &SceneStructures{BLASes: blases, TLAS: tlas}, nil
}

// Append builds the given meshes and appends them to tlas in update mode,
// all in one submission. The returned structures are owned by the caller;
// tlas holds a pending handle until the next DescriptorSync.
func (b *Builder) Append(tlas *TopLevelStructure, meshes []*metadata.Mesh) ([]*BottomLevelStructure, error) {
	blases, err := b.createBottomLevel(meshes)
	if err != nil {
		return nil, err
	}
	changed, err := tlas.PrepareUpdate(blases)
	if err != nil {
		destroyAll(blases)
		return nil, err
	}

	err = b.device.OneTimeSubmit(func(cmd renderer.CommandBuffer) error {
		recordBottomLevel(cmd, blases)
		if !changed {
			return nil
		}
		cmd.AccelerationStructureBarrier()
		return tlas.Record(cmd)
	})
	if err != nil {
		if changed {
			tlas.Abort()
		}
		destroyAll(blases)
		return nil, b.fail("scene append", err)
	}

	for _, blas := range blases {
		blas.Complete(tlas.Generation())
	}
	if changed {
		tlas.Complete()
	}
	return blases, nil
}

func (b *Builder) createBottomLevel(meshes []*metadata.Mesh) ([]*BottomLevelStructure, error) {
	blases := make([]*BottomLevelStructure, 0, len(meshes))
	for _, mesh := range meshes {
		gb, err := NewGeometryBuffer(b.device, mesh)
		if err != nil {
			destroyAll(blases)
			return nil, err
		}
		blas, err := NewBottomLevelStructure(b.device, b.diag, gb, mesh)
		if err != nil {
			gb.Destroy()
			destroyAll(blases)
			return nil, err
		}
		blases = append(blases, blas)
	}
	return blases, nil
}

func (b *Builder) fail(operation string, err error) error {
	if b.diag != nil {
		return b.diag.RecordFailure(operation, err)
	}
	core.LogError("%s: %s", operation, err.Error())
	return fmt.Errorf("%s: %w: %w", operation, core.ErrDeviceFailure, err)
}

func recordBottomLevel(cmd renderer.CommandBuffer, blases []*BottomLevelStructure) {
	for _, blas := range blases {
		blas.Geometry().RecordUpload(cmd)
	}
	if len(blases) == 0 {
		return
	}
	cmd.AccelerationStructureBarrier()
	for _, blas := range blases {
		blas.Record(cmd)
	}
}

func destroyAll(blases []*BottomLevelStructure) {
	for _, blas := range blases {
		blas.Destroy()
	}
}
