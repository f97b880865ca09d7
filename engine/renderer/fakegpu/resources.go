package fakegpu

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Buffer struct {
	device    *Device
	name      string
	size      uint64
	usage     metadata.BufferUsage
	memory    metadata.MemoryUsage
	address   metadata.DeviceAddress
	data      []byte
	destroyed bool
}

func (b *Buffer) Name() string                          { return b.name }
func (b *Buffer) Size() uint64                          { return b.size }
func (b *Buffer) Usage() metadata.BufferUsage           { return b.usage }
func (b *Buffer) DeviceAddress() metadata.DeviceAddress { return b.address }

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) MemoryCopy(data []byte, offset uint64) error {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	if b.destroyed {
		b.device.violate("write to destroyed buffer %s", b.name)
		return fmt.Errorf("buffer %s destroyed", b.name)
	}
	if b.memory != metadata.MemoryUsageCPUToGPU {
		return fmt.Errorf("buffer %s is not host visible", b.name)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %s (%d)", len(data), offset, b.name, b.size)
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *Buffer) Destroy() {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	if b.destroyed {
		b.device.violate("double destroy of buffer %s", b.name)
		return
	}
	b.destroyed = true
	delete(b.device.buffers, b)
	b.device.record(Event{Kind: EventDestroyBuffer, Name: b.name, Address: b.address})
}

type AccelerationStructure struct {
	device        *Device
	structureType metadata.AccelerationStructureType
	storage       *Buffer
	address       metadata.DeviceAddress
	destroyed     bool
}

func (a *AccelerationStructure) Type() metadata.AccelerationStructureType { return a.structureType }
func (a *AccelerationStructure) DeviceAddress() metadata.DeviceAddress    { return a.address }

func (a *AccelerationStructure) Destroyed() bool {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.destroyed
}

func (a *AccelerationStructure) Destroy() {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	if a.destroyed {
		a.device.violate("double destroy of structure %#x", uint64(a.address))
		return
	}
	a.destroyed = true
	delete(a.device.structures, a)
	a.device.record(Event{Kind: EventDestroyStruct, Name: a.structureType.String(), Address: a.address})
}

type Image struct {
	device    *Device
	name      string
	width     uint32
	height    uint32
	mips      uint32
	format    metadata.TextureFormat
	layout    renderer.ImageLayout
	destroyed bool
}

func (i *Image) Name() string                   { return i.name }
func (i *Image) Width() uint32                  { return i.width }
func (i *Image) Height() uint32                 { return i.height }
func (i *Image) MipLevels() uint32              { return i.mips }
func (i *Image) Format() metadata.TextureFormat { return i.format }

func (i *Image) Layout() renderer.ImageLayout {
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	return i.layout
}

func (i *Image) Destroyed() bool {
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	return i.destroyed
}

func (i *Image) Destroy() {
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	if i.destroyed {
		i.device.violate("double destroy of image %s", i.name)
		return
	}
	i.destroyed = true
	delete(i.device.images, i)
	i.device.record(Event{Kind: EventDestroyImage, Name: i.name})
}
