package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFireStopsAtFirstHandler(t *testing.T) {
	require.True(t, EventInitialize())
	defer EventShutdown()

	first, second := 0, 0
	listenerA, listenerB := new(int), new(int)
	require.True(t, EventRegister(EVENT_CODE_ASSET_CHANGED, listenerA, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		first++
		assert.Equal(t, "scenes/cube.gltf", data.Data.C[0])
		return true
	}))
	require.True(t, EventRegister(EVENT_CODE_ASSET_CHANGED, listenerB, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		second++
		return false
	}))
	assert.False(t, EventRegister(EVENT_CODE_ASSET_CHANGED, listenerA, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	ctx := EventContext{}
	ctx.Data.C[0] = "scenes/cube.gltf"
	assert.True(t, EventFire(EVENT_CODE_ASSET_CHANGED, nil, ctx))
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)

	require.True(t, EventUnregister(EVENT_CODE_ASSET_CHANGED, listenerA))
	assert.False(t, EventFire(EVENT_CODE_ASSET_CHANGED, nil, ctx))
	assert.Equal(t, 1, second)
}

func TestEventFireWithoutInitialize(t *testing.T) {
	assert.False(t, EventFire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}
