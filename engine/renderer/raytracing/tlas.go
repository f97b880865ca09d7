package raytracing

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type TopLevelState int

const (
	// TopLevelEmpty has never been built.
	TopLevelEmpty TopLevelState = iota
	// TopLevelBuilt has exactly one live handle and it is bound.
	TopLevelBuilt
	// TopLevelBuilding has a new handle waiting for the descriptor rewrite
	// while the old one is still bound.
	TopLevelBuilding
)

func (s TopLevelState) String() string {
	switch s {
	case TopLevelEmpty:
		return "empty"
	case TopLevelBuilt:
		return "built"
	case TopLevelBuilding:
		return "building"
	}
	return fmt.Sprintf("TopLevelState(%d)", int(s))
}

// tlasHandle is one built generation of the top level structure.
type tlasHandle struct {
	sources      []Instance
	records      []metadata.InstanceRecord
	instances    renderer.Buffer
	descriptions renderer.Buffer
	scratch      renderer.Buffer
	result       renderer.Buffer
	handle       renderer.AccelerationStructure
	info         metadata.BuildInfo
}

func (h *tlasHandle) destroy(diag *diagnostics.Service) {
	if h == nil {
		return
	}
	if h.handle != nil {
		if diag != nil {
			diag.ForgetStructure(h.handle.DeviceAddress())
		}
		h.handle.Destroy()
		h.handle = nil
	}
	for _, buf := range []*renderer.Buffer{&h.scratch, &h.result, &h.instances, &h.descriptions} {
		if *buf != nil {
			(*buf).Destroy()
			*buf = nil
		}
	}
}

// TopLevelStructure aggregates bottom level instances. Building never
// destroys the bound handle: a rebuilt handle stays pending until a
// DescriptorSync has rebound the pipeline to it.
type TopLevelStructure struct {
	mu         sync.Mutex
	device     renderer.Device
	diag       *diagnostics.Service
	label      string
	generation uint64

	state   TopLevelState
	current *tlasHandle
	pending *tlasHandle
	staged  *tlasHandle
}

func NewTopLevelStructure(device renderer.Device, diag *diagnostics.Service, label string, generation uint64) *TopLevelStructure {
	return &TopLevelStructure{
		device:     device,
		diag:       diag,
		label:      label,
		generation: generation,
	}
}

// PrepareBuild stages a full build over instances. An earlier build that was
// never bound is discarded first.
func (t *TopLevelStructure) PrepareBuild(instances []Instance) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.discardUnboundLocked()
	staged, err := t.newHandle(metadata.BuildModeBuild, instances)
	if err != nil {
		return err
	}
	t.staged = staged
	return nil
}

// PrepareUpdate stages an append of the given structures to the current
// instance list. Structures that are already instanced are skipped, and if
// nothing is new no build is staged and false is returned.
func (t *TopLevelStructure) PrepareUpdate(blases []*BottomLevelStructure) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	latest := t.latestLocked()
	var base []Instance
	if latest != nil {
		base = latest.sources
	}
	if limit := t.device.Properties().MaxInstanceCount; uint64(len(base)) >= limit && latest != nil {
		core.LogWarn("tlas %q is at the device instance limit %d; not appending", t.label, limit)
		return false, nil
	}
	present := make(map[*BottomLevelStructure]bool, len(base)+len(blases))
	for _, inst := range base {
		present[inst.BLAS] = true
	}
	sources := append([]Instance(nil), base...)
	for _, b := range blases {
		if present[b] {
			continue
		}
		present[b] = true
		sources = append(sources, DefaultInstance(b))
	}
	if latest != nil && len(sources) == len(base) {
		return false, nil
	}

	t.discardUnboundLocked()
	staged, err := t.newHandle(metadata.BuildModeUpdate, sources)
	if err != nil {
		return false, err
	}
	t.staged = staged
	return true, nil
}

func (t *TopLevelStructure) newHandle(mode metadata.BuildMode, sources []Instance) (*tlasHandle, error) {
	limit := t.device.Properties().MaxInstanceCount
	if uint64(len(sources)) > limit {
		core.LogWarn("tlas %q: %d instances requested, device limit is %d; dropping %d", t.label, len(sources), limit, uint64(len(sources))-limit)
		sources = sources[:limit]
	}

	h := &tlasHandle{sources: sources}
	h.records = make([]metadata.InstanceRecord, len(sources))
	descriptions := make([]metadata.InstanceDescription, len(sources))
	for i, inst := range sources {
		h.records[i] = inst.record(uint32(i))
		descriptions[i] = inst.BLAS.instanceDescription()
	}

	if err := t.allocate(h, mode, descriptions); err != nil {
		h.destroy(nil)
		return nil, err
	}
	return h, nil
}

func (t *TopLevelStructure) allocate(h *tlasHandle, mode metadata.BuildMode, descriptions []metadata.InstanceDescription) error {
	var err error
	data := packRecords(h.records)
	h.instances, err = t.device.CreateBuffer(t.label+"/instances", uint64(len(data)),
		metadata.BufferUsageShaderDeviceAddress|metadata.BufferUsageAccelerationStructureBuildInput, metadata.MemoryUsageCPUToGPU)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}
	if err := h.instances.MemoryCopy(data, 0); err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	data = packDescriptions(descriptions)
	h.descriptions, err = t.device.CreateBuffer(t.label+"/descriptions", uint64(len(data)),
		metadata.BufferUsageStorage, metadata.MemoryUsageCPUToGPU)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}
	if err := h.descriptions.MemoryCopy(data, 0); err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	geometry := metadata.InstancesData{
		InstancesAddress: h.instances.DeviceAddress(),
		Instances:        uint32(len(h.records)),
	}
	sizingInfo, err := topLevelBuildInfo(mode, geometry).Build()
	if err != nil {
		return err
	}
	sizes, err := t.device.GetAccelerationStructureBuildSizes(sizingInfo)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	var scratchAddress metadata.DeviceAddress
	h.scratch, scratchAddress, err = allocateScratch(t.device, t.label+"/scratch", sizes.BuildScratchSize)
	if err != nil {
		return err
	}
	h.result, err = t.device.CreateBuffer(t.label+"/tlas", sizes.AccelerationStructureSize,
		metadata.BufferUsageAccelerationStructureStorage|metadata.BufferUsageShaderDeviceAddress, metadata.MemoryUsageGPUOnly)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}
	h.handle, err = t.device.CreateAccelerationStructure(metadata.AccelerationStructureTypeTopLevel, h.result, sizes.AccelerationStructureSize)
	if err != nil {
		core.LogError("%s", err.Error())
		return err
	}

	h.info, err = topLevelBuildInfo(mode, geometry).Scratch(scratchAddress).Build()
	return err
}

// topLevelBuildInfo favours build speed for appends, which rebuild the
// structure once per streamed batch. Sizing and build must share flags.
func topLevelBuildInfo(mode metadata.BuildMode, geometry metadata.InstancesData) *metadata.BuildInfoBuilder {
	b := metadata.NewBuildInfoBuilder(metadata.AccelerationStructureTypeTopLevel).
		Mode(mode).
		Geometry(geometry)
	if mode == metadata.BuildModeUpdate {
		b.PreferFastBuild()
	}
	return b
}

// Record records the staged build into cmd.
func (t *TopLevelStructure) Record(cmd renderer.CommandBuffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged == nil {
		return fmt.Errorf("tlas %q: nothing staged", t.label)
	}
	cmd.BuildAccelerationStructure(t.staged.handle, t.staged.info)
	return nil
}

// Complete is called once the submission holding Record has finished.
func (t *TopLevelStructure) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.staged
	if h == nil {
		return
	}
	t.staged = nil
	if h.scratch != nil {
		h.scratch.Destroy()
		h.scratch = nil
	}
	if t.diag != nil {
		if err := t.diag.RegisterStructure(diagnostics.Structure{
			Label:      t.label,
			Type:       metadata.AccelerationStructureTypeTopLevel,
			Address:    h.handle.DeviceAddress(),
			Generation: t.generation,
		}); err != nil {
			core.LogWarn("tlas %q not tracked: %s", t.label, err.Error())
		}
	}

	switch t.state {
	case TopLevelEmpty:
		t.current = h
		t.state = TopLevelBuilt
	case TopLevelBuilt, TopLevelBuilding:
		t.pending = h
		t.state = TopLevelBuilding
	}
}

// Abort drops a staged build whose submission failed.
func (t *TopLevelStructure) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged.destroy(t.diag)
	t.staged = nil
}

// Build builds the structure over instances in its own submission.
func (t *TopLevelStructure) Build(instances []Instance) error {
	if err := t.PrepareBuild(instances); err != nil {
		return err
	}
	return t.submit("tlas build")
}

// Update appends new structures in its own submission. It is a no-op when
// every structure is already instanced.
func (t *TopLevelStructure) Update(blases []*BottomLevelStructure) error {
	changed, err := t.PrepareUpdate(blases)
	if err != nil || !changed {
		return err
	}
	return t.submit("tlas update")
}

func (t *TopLevelStructure) submit(operation string) error {
	err := t.device.OneTimeSubmit(func(cmd renderer.CommandBuffer) error {
		return t.Record(cmd)
	})
	if err != nil {
		t.Abort()
		if t.diag != nil {
			return t.diag.RecordFailure(operation, err)
		}
		return fmt.Errorf("%s: %w: %w", operation, core.ErrDeviceFailure, err)
	}
	t.Complete()
	return nil
}

func (t *TopLevelStructure) latestLocked() *tlasHandle {
	if t.pending != nil {
		return t.pending
	}
	return t.current
}

// DiscardUnbound drops staged or pending builds that were never bound.
func (t *TopLevelStructure) DiscardUnbound() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discardUnboundLocked()
}

// discardUnboundLocked destroys builds that were never bound.
func (t *TopLevelStructure) discardUnboundLocked() {
	if t.staged != nil {
		t.staged.destroy(t.diag)
		t.staged = nil
	}
	if t.pending != nil {
		t.pending.destroy(t.diag)
		t.pending = nil
		t.state = TopLevelBuilt
	}
}

// bindTargetLocked is the handle the descriptor must point at.
func (t *TopLevelStructure) bindTargetLocked() *tlasHandle {
	return t.latestLocked()
}

// commitLocked promotes the pending handle and returns the one it replaced.
func (t *TopLevelStructure) commitLocked() *tlasHandle {
	if t.state != TopLevelBuilding {
		return nil
	}
	old := t.current
	t.current = t.pending
	t.pending = nil
	t.state = TopLevelBuilt
	return old
}

func (t *TopLevelStructure) State() TopLevelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TopLevelStructure) Label() string      { return t.label }
func (t *TopLevelStructure) Generation() uint64 { return t.generation }

// Records returns the instance records of the newest built handle.
func (t *TopLevelStructure) Records() []metadata.InstanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h := t.latestLocked(); h != nil {
		return append([]metadata.InstanceRecord(nil), h.records...)
	}
	return nil
}

func (t *TopLevelStructure) InstanceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h := t.latestLocked(); h != nil {
		return len(h.records)
	}
	return 0
}

// DeviceAddress is the address of the bound handle.
func (t *TopLevelStructure) DeviceAddress() (metadata.DeviceAddress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0, fmt.Errorf("tlas %q: %w", t.label, core.ErrNotBuilt)
	}
	return t.current.handle.DeviceAddress(), nil
}

// Destroy releases every handle. The caller guarantees the GPU no longer
// references any of them.
func (t *TopLevelStructure) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged.destroy(t.diag)
	t.pending.destroy(t.diag)
	t.current.destroy(t.diag)
	t.staged, t.pending, t.current = nil, nil, nil
	t.state = TopLevelEmpty
}
