package diagnostics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var ErrNotInitialized = errors.New("diagnostics service not initialized")

// Structure is a live acceleration structure known to the service.
type Structure struct {
	Label      string
	Type       metadata.AccelerationStructureType
	Address    metadata.DeviceAddress
	Generation uint64
}

// Failure is a recorded device failure together with the structures that were
// alive when it happened.
type Failure struct {
	ID        uuid.UUID
	Operation string
	Err       error
	At        time.Time
	Live      []Structure
}

// Service tracks acceleration structures by device address so that a device
// failure can be reported with the resources involved.
type Service struct {
	mu          sync.Mutex
	initialized bool
	structures  map[metadata.DeviceAddress]Structure
	failures    []Failure
	maxFailures int
}

func New(maxFailures int) *Service {
	if maxFailures <= 0 {
		maxFailures = 16
	}
	return &Service{maxFailures: maxFailures}
}

func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.structures = make(map[metadata.DeviceAddress]Structure)
	s.failures = nil
	s.initialized = true
	core.LogDebug("diagnostics service initialized")
	return nil
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	if n := len(s.structures); n > 0 {
		core.LogWarn("diagnostics shutting down with %d structures still registered", n)
	}
	s.structures = nil
	s.initialized = false
	return nil
}

func (s *Service) RegisterStructure(st Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.structures[st.Address] = st
	return nil
}

func (s *Service) ForgetStructure(address metadata.DeviceAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		delete(s.structures, address)
	}
}

func (s *Service) Lookup(address metadata.DeviceAddress) (Structure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.structures[address]
	return st, ok
}

func (s *Service) LiveStructures() []Structure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

func (s *Service) liveLocked() []Structure {
	out := make([]Structure, 0, len(s.structures))
	for _, st := range s.structures {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// RecordFailure logs the failure with every live structure and returns err
// wrapped with core.ErrDeviceFailure.
func (s *Service) RecordFailure(operation string, err error) error {
	wrapped := fmt.Errorf("%s: %w: %w", operation, core.ErrDeviceFailure, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		core.LogError("%s", wrapped.Error())
		return wrapped
	}
	f := Failure{
		ID:        uuid.New(),
		Operation: operation,
		Err:       err,
		At:        time.Now(),
		Live:      s.liveLocked(),
	}
	if len(s.failures) == s.maxFailures {
		s.failures = s.failures[1:]
	}
	s.failures = append(s.failures, f)

	core.LogError("device failure %s during %s: %s", f.ID, operation, err.Error())
	for _, st := range f.Live {
		core.LogError("  live %s structure %q gen=%d addr=%#x", st.Type, st.Label, st.Generation, uint64(st.Address))
	}
	return wrapped
}

func (s *Service) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}
