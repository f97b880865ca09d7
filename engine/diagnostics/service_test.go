package diagnostics

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequiresInitialize(t *testing.T) {
	s := New(4)
	err := s.RegisterStructure(Structure{Label: "tlas", Address: 0x100})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRecordFailureCapturesLiveStructures(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Initialize())
	defer s.Shutdown()

	require.NoError(t, s.RegisterStructure(Structure{Label: "cube", Type: metadata.AccelerationStructureTypeBottomLevel, Address: 0x200}))
	require.NoError(t, s.RegisterStructure(Structure{Label: "scene", Type: metadata.AccelerationStructureTypeTopLevel, Address: 0x100}))

	st, ok := s.Lookup(0x200)
	require.True(t, ok)
	assert.Equal(t, "cube", st.Label)

	cause := errors.New("VK_ERROR_DEVICE_LOST")
	err := s.RecordFailure("build", cause)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	assert.ErrorIs(t, err, cause)

	failures := s.Failures()
	require.Len(t, failures, 1)
	require.Len(t, failures[0].Live, 2)
	assert.Equal(t, metadata.DeviceAddress(0x100), failures[0].Live[0].Address)

	s.ForgetStructure(0x200)
	_, ok = s.Lookup(0x200)
	assert.False(t, ok)
}

func TestFailuresAreBounded(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Initialize())
	for i := 0; i < 5; i++ {
		_ = s.RecordFailure("submit", errors.New("boom"))
	}
	assert.Len(t, s.Failures(), 2)
	require.NoError(t, s.Shutdown())
	assert.Empty(t, s.LiveStructures())
}
