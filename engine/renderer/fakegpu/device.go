// Package fakegpu is an instrumented in-memory implementation of the renderer
// device interfaces. Every call is appended to an ordered event log so tests
// can assert on resource lifetimes and submission order.
package fakegpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var ErrInjectedFailure = errors.New("injected submission failure")

type EventKind string

const (
	EventCreateBuffer    EventKind = "create-buffer"
	EventDestroyBuffer   EventKind = "destroy-buffer"
	EventCreateStructure EventKind = "create-structure"
	EventDestroyStruct   EventKind = "destroy-structure"
	EventCreateImage     EventKind = "create-image"
	EventDestroyImage    EventKind = "destroy-image"
	EventBuild           EventKind = "build"
	EventSubmit          EventKind = "submit"
	EventWriteStructure  EventKind = "write-structure"
	EventWriteBuffer     EventKind = "write-buffer"
	EventWriteImages     EventKind = "write-images"
	EventMipmaps         EventKind = "mipmaps"
	EventTransition      EventKind = "transition"
)

type Event struct {
	Kind    EventKind
	Name    string
	Address metadata.DeviceAddress
	Binding uint32
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %#x b%d", e.Kind, e.Name, uint64(e.Address), e.Binding)
}

type RecordedBuild struct {
	Target metadata.DeviceAddress
	Info   metadata.BuildInfo
}

type Device struct {
	mu          sync.Mutex
	props       metadata.DeviceProperties
	nextAddress uint64
	events      []Event
	violations  []string
	builds      []RecordedBuild
	failSubmits bool
	blit        bool
	submissions int

	buffers    map[*Buffer]struct{}
	structures map[*AccelerationStructure]struct{}
	images     map[*Image]struct{}
}

func NewDevice(props metadata.DeviceProperties) *Device {
	return &Device{
		props:       props,
		nextAddress: 0x10000,
		blit:        true,
		buffers:     make(map[*Buffer]struct{}),
		structures:  make(map[*AccelerationStructure]struct{}),
		images:      make(map[*Image]struct{}),
	}
}

// DefaultProperties are generous limits matching a desktop GPU.
func DefaultProperties() metadata.DeviceProperties {
	return metadata.DeviceProperties{
		MaxPrimitiveCount:   1 << 29,
		MaxInstanceCount:    1 << 24,
		MinScratchAlignment: 128,
	}
}

func (d *Device) SetFailSubmissions(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSubmits = fail
}

func (d *Device) SetBlitSupported(supported bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blit = supported
}

func (d *Device) record(e Event) {
	d.events = append(d.events, e)
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) allocAddress(size uint64) metadata.DeviceAddress {
	addr := metadata.DeviceAddress(d.nextAddress)
	d.nextAddress += math.AlignUp(max(size, 1), 256)
	return addr
}

func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Device) ResetEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
	d.builds = nil
}

// Violations lists every use of a destroyed resource.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *Device) Builds() []RecordedBuild {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RecordedBuild(nil), d.builds...)
}

func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Device) LiveStructures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.structures)
}

func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images)
}

func (d *Device) Properties() metadata.DeviceProperties {
	return d.props
}

func (d *Device) CreateBuffer(name string, size uint64, usage metadata.BufferUsage, memory metadata.MemoryUsage) (renderer.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size == 0 {
		return nil, fmt.Errorf("buffer %s: zero size", name)
	}
	b := &Buffer{
		device: d,
		name:   name,
		size:   size,
		usage:  usage,
		memory: memory,
		data:   make([]byte, size),
	}
	if usage.Has(metadata.BufferUsageShaderDeviceAddress) {
		b.address = d.allocAddress(size)
	}
	d.buffers[b] = struct{}{}
	d.record(Event{Kind: EventCreateBuffer, Name: name, Address: b.address})
	return b, nil
}

func (d *Device) GetAccelerationStructureBuildSizes(info metadata.BuildInfo) (metadata.BuildSizes, error) {
	var per uint64
	switch info.Geometry().(type) {
	case metadata.TrianglesData:
		per = 64
	case metadata.InstancesData:
		per = 128
	}
	n := uint64(max(info.Geometry().PrimitiveCount(), 1))
	return metadata.BuildSizes{
		AccelerationStructureSize: 256 + per*n,
		BuildScratchSize:          128 + per*n/2,
		UpdateScratchSize:         64,
	}, nil
}

func (d *Device) CreateAccelerationStructure(structureType metadata.AccelerationStructureType, storage renderer.Buffer, size uint64) (renderer.AccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := storage.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("foreign storage buffer %T", storage)
	}
	if buf.destroyed {
		d.violate("structure created on destroyed buffer %s", buf.name)
	}
	if buf.size < size {
		return nil, fmt.Errorf("storage buffer %s too small: %d < %d", buf.name, buf.size, size)
	}
	as := &AccelerationStructure{
		device:        d,
		structureType: structureType,
		storage:       buf,
		address:       d.allocAddress(size),
	}
	d.structures[as] = struct{}{}
	d.record(Event{Kind: EventCreateStructure, Name: structureType.String(), Address: as.address})
	return as, nil
}

func (d *Device) CreateImage(name string, width, height, mipLevels uint32, format metadata.TextureFormat) (renderer.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := &Image{device: d, name: name, width: width, height: height, mips: mipLevels, format: format}
	d.images[img] = struct{}{}
	d.record(Event{Kind: EventCreateImage, Name: name})
	return img, nil
}

func (d *Device) FormatSupportsBlit(format metadata.TextureFormat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blit
}

// OneTimeSubmit runs the recorded commands only when the submission succeeds.
func (d *Device) OneTimeSubmit(record func(cmd renderer.CommandBuffer) error) error {
	cmd := &CommandBuffer{device: d}
	if err := record(cmd); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSubmits {
		return ErrInjectedFailure
	}
	for _, op := range cmd.ops {
		op()
	}
	d.submissions++
	d.record(Event{Kind: EventSubmit})
	return nil
}

func (d *Device) WaitIdle() error {
	return nil
}

var (
	_ renderer.Device                = (*Device)(nil)
	_ renderer.Buffer                = (*Buffer)(nil)
	_ renderer.AccelerationStructure = (*AccelerationStructure)(nil)
	_ renderer.Image                 = (*Image)(nil)
	_ renderer.CommandBuffer         = (*CommandBuffer)(nil)
	_ renderer.DescriptorSet         = (*DescriptorSet)(nil)
)
