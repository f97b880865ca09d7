package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

// Retirable is a GPU resource that may only be destroyed once nothing bound
// to the pipeline refers to it any more.
type Retirable interface {
	Destroy()
}

// SceneBindings are the scene resources bound next to the top level structure.
type SceneBindings struct {
	Materials renderer.Buffer
	Textures  []renderer.Image
}

// DescriptorSync points the ray tracing descriptor set at a new top level
// structure and only afterwards destroys what the set used to reference.
type DescriptorSync struct {
	set   renderer.DescriptorSet
	bound boundScene
}

// boundScene is what the set referenced after the last successful Retarget.
type boundScene struct {
	structure    renderer.AccelerationStructure
	descriptions renderer.Buffer
	materials    renderer.Buffer
	textures     []renderer.Image
}

func NewDescriptorSync(set renderer.DescriptorSet) *DescriptorSync {
	return &DescriptorSync{set: set}
}

// Retarget binds the newest handle of tlas together with bindings, commits
// it and then destroys the replaced handle and every retired resource. If a
// write fails the set is pointed back at the previous scene and nothing is
// destroyed, so the caller may free the new resources.
func (s *DescriptorSync) Retarget(tlas *TopLevelStructure, bindings SceneBindings, retired ...Retirable) error {
	tlas.mu.Lock()
	defer tlas.mu.Unlock()

	target := tlas.bindTargetLocked()
	if target == nil {
		return fmt.Errorf("retarget %q: %w", tlas.label, core.ErrNotBuilt)
	}
	next := boundScene{
		structure:    target.handle,
		descriptions: target.descriptions,
		materials:    s.bound.materials,
		textures:     s.bound.textures,
	}
	if bindings.Materials != nil {
		next.materials = bindings.Materials
	}
	if len(bindings.Textures) > 0 {
		next.textures = bindings.Textures
	}
	if err := s.write(next, bindings); err != nil {
		core.LogError("retarget %q: %s", tlas.label, err)
		s.restore()
		return err
	}
	s.bound = next

	if old := tlas.commitLocked(); old != nil {
		old.destroy(tlas.diag)
	}
	for _, r := range retired {
		if r != nil {
			r.Destroy()
		}
	}
	return nil
}

func (s *DescriptorSync) write(next boundScene, bindings SceneBindings) error {
	if err := s.set.WriteAccelerationStructure(renderer.BindingTopLevelStructure, next.structure); err != nil {
		return err
	}
	if err := s.set.WriteStorageBuffer(renderer.BindingInstanceDescriptions, next.descriptions); err != nil {
		return err
	}
	if bindings.Materials != nil {
		if err := s.set.WriteStorageBuffer(renderer.BindingMaterials, bindings.Materials); err != nil {
			return err
		}
	}
	if len(bindings.Textures) > 0 {
		if err := s.set.WriteSampledImages(renderer.BindingTextures, bindings.Textures); err != nil {
			return err
		}
	}
	return nil
}

// restore rewrites the bindings of the last successful Retarget. Before the
// first one there is nothing to go back to.
func (s *DescriptorSync) restore() {
	if s.bound.structure == nil {
		return
	}
	if err := s.set.WriteAccelerationStructure(renderer.BindingTopLevelStructure, s.bound.structure); err != nil {
		core.LogError("restore top level binding: %s", err)
	}
	if err := s.set.WriteStorageBuffer(renderer.BindingInstanceDescriptions, s.bound.descriptions); err != nil {
		core.LogError("restore instance descriptions: %s", err)
	}
	if s.bound.materials != nil {
		if err := s.set.WriteStorageBuffer(renderer.BindingMaterials, s.bound.materials); err != nil {
			core.LogError("restore materials: %s", err)
		}
	}
	if len(s.bound.textures) > 0 {
		if err := s.set.WriteSampledImages(renderer.BindingTextures, s.bound.textures); err != nil {
			core.LogError("restore textures: %s", err)
		}
	}
}
