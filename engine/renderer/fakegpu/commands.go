package fakegpu

import (
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// CommandBuffer defers every command until the submission succeeds.
type CommandBuffer struct {
	device *Device
	ops    []func()
}

func (c *CommandBuffer) CopyBuffer(src, dst renderer.Buffer, size uint64) {
	s, d := src.(*Buffer), dst.(*Buffer)
	c.ops = append(c.ops, func() {
		if s.destroyed || d.destroyed {
			c.device.violate("copy between %s and %s after destroy", s.name, d.name)
			return
		}
		copy(d.data[:size], s.data[:size])
	})
}

func (c *CommandBuffer) BuildAccelerationStructure(dst renderer.AccelerationStructure, info metadata.BuildInfo) {
	as := dst.(*AccelerationStructure)
	c.ops = append(c.ops, func() {
		if as.destroyed {
			c.device.violate("build into destroyed structure %#x", uint64(as.address))
		}
		if inst, ok := info.Geometry().(metadata.InstancesData); ok {
			c.checkInstances(inst)
		}
		c.device.builds = append(c.device.builds, RecordedBuild{Target: as.address, Info: info})
		c.device.record(Event{Kind: EventBuild, Name: info.Type().String(), Address: as.address})
	})
}

// checkInstances validates that every referenced bottom level structure is alive.
func (c *CommandBuffer) checkInstances(inst metadata.InstancesData) {
	var src *Buffer
	for b := range c.device.buffers {
		if b.address == inst.InstancesAddress {
			src = b
			break
		}
	}
	if src == nil {
		if inst.Instances > 0 {
			c.device.violate("instance buffer %#x not found", uint64(inst.InstancesAddress))
		}
		return
	}
	live := make(map[metadata.DeviceAddress]bool, len(c.device.structures))
	for as := range c.device.structures {
		live[as.address] = true
	}
	for i := uint32(0); i < inst.Instances; i++ {
		rec := metadata.UnpackInstanceRecord(src.data[i*metadata.InstanceRecordSize:])
		if !live[rec.Reference] {
			c.device.violate("instance %d references dead structure %#x", i, uint64(rec.Reference))
		}
	}
}

func (c *CommandBuffer) AccelerationStructureBarrier() {}

func (c *CommandBuffer) TransitionImage(image renderer.Image, from, to renderer.ImageLayout) {
	img := image.(*Image)
	c.ops = append(c.ops, func() {
		if img.layout != from {
			c.device.violate("image %s transition from %d but layout is %d", img.name, from, img.layout)
		}
		img.layout = to
		c.device.record(Event{Kind: EventTransition, Name: img.name})
	})
}

func (c *CommandBuffer) CopyBufferToImage(src renderer.Buffer, dst renderer.Image) {
	s, img := src.(*Buffer), dst.(*Image)
	c.ops = append(c.ops, func() {
		if s.destroyed || img.destroyed {
			c.device.violate("copy to image %s after destroy", img.name)
		}
		if img.layout != renderer.ImageLayoutTransferDst {
			c.device.violate("copy to image %s outside transfer layout", img.name)
		}
	})
}

func (c *CommandBuffer) GenerateMipmaps(image renderer.Image) {
	img := image.(*Image)
	c.ops = append(c.ops, func() {
		if img.layout != renderer.ImageLayoutTransferDst {
			c.device.violate("mipmaps for image %s outside transfer layout", img.name)
		}
		img.layout = renderer.ImageLayoutShaderReadOnly
		c.device.record(Event{Kind: EventMipmaps, Name: img.name})
	})
}
