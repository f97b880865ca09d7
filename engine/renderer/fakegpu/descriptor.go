package fakegpu

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DescriptorSet remembers what every binding points at.
type DescriptorSet struct {
	device     *Device
	structures map[uint32]*AccelerationStructure
	buffers    map[uint32]*Buffer
	images     map[uint32][]*Image
}

func NewDescriptorSet(device *Device) *DescriptorSet {
	return &DescriptorSet{
		device:     device,
		structures: make(map[uint32]*AccelerationStructure),
		buffers:    make(map[uint32]*Buffer),
		images:     make(map[uint32][]*Image),
	}
}

func (s *DescriptorSet) WriteAccelerationStructure(binding uint32, structure renderer.AccelerationStructure) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	as := structure.(*AccelerationStructure)
	if as.destroyed {
		s.device.violate("descriptor write of destroyed structure %#x", uint64(as.address))
		return fmt.Errorf("structure %#x destroyed", uint64(as.address))
	}
	s.structures[binding] = as
	s.device.record(Event{Kind: EventWriteStructure, Address: as.address, Binding: binding})
	return nil
}

func (s *DescriptorSet) WriteStorageBuffer(binding uint32, buffer renderer.Buffer) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	b := buffer.(*Buffer)
	if b.destroyed {
		s.device.violate("descriptor write of destroyed buffer %s", b.name)
		return fmt.Errorf("buffer %s destroyed", b.name)
	}
	s.buffers[binding] = b
	s.device.record(Event{Kind: EventWriteBuffer, Name: b.name, Address: b.address, Binding: binding})
	return nil
}

func (s *DescriptorSet) WriteSampledImages(binding uint32, images []renderer.Image) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	imgs := make([]*Image, 0, len(images))
	for _, image := range images {
		img := image.(*Image)
		if img.destroyed {
			s.device.violate("descriptor write of destroyed image %s", img.name)
			return fmt.Errorf("image %s destroyed", img.name)
		}
		imgs = append(imgs, img)
	}
	s.images[binding] = imgs
	s.device.record(Event{Kind: EventWriteImages, Binding: binding})
	return nil
}

func (s *DescriptorSet) BoundStructure(binding uint32) metadata.DeviceAddress {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if as, ok := s.structures[binding]; ok {
		return as.address
	}
	return 0
}

func (s *DescriptorSet) BoundBuffer(binding uint32) *Buffer {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.buffers[binding]
}

func (s *DescriptorSet) BoundImages(binding uint32) []*Image {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return append([]*Image(nil), s.images[binding]...)
}

// BoundStructureDestroyed reports whether binding points at a structure that
// has already been destroyed.
func (s *DescriptorSet) BoundStructureDestroyed(binding uint32) bool {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	as, ok := s.structures[binding]
	return ok && as.destroyed
}
