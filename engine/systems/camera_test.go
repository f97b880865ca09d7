package systems

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCameraSystemReferenceCounting(t *testing.T) {
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 1})
	require.NoError(t, err)

	a, err := cs.Acquire("orbit")
	require.NoError(t, err)
	again, err := cs.Acquire("orbit")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = cs.Acquire("fly")
	assert.Error(t, err)

	require.NoError(t, cs.SetActive("orbit"))
	assert.Same(t, a, cs.Active())

	cs.Release("orbit")
	assert.Same(t, a, cs.Active())
	cs.Release("orbit")
	assert.Same(t, cs.GetDefault(), cs.Active())

	_, err = cs.Acquire("fly")
	assert.NoError(t, err)
}

func TestCameraSystemDefaultCamera(t *testing.T) {
	_, err := NewCameraSystem(&CameraSystemConfig{})
	assert.Error(t, err)

	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 4})
	require.NoError(t, err)
	def, err := cs.Acquire(components.DEFAULT_CAMERA_NAME)
	require.NoError(t, err)
	assert.Same(t, cs.GetDefault(), def)
	cs.Release(components.DEFAULT_CAMERA_NAME)
	assert.Error(t, cs.SetActive("missing"))
	assert.Same(t, def, cs.Active())
	assert.Less(t, def.Forward().Z(), float32(0))
}
