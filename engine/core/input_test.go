package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputProcessKeyFiresOnTransition(t *testing.T) {
	require.True(t, EventInitialize())
	defer EventShutdown()
	require.NoError(t, InputInitialize())
	defer InputShutdown()

	var pressed, released []KeyCode
	listener := new(int)
	require.True(t, EventRegister(EVENT_CODE_KEY_PRESSED, listener, func(code SystemEventCode, sender, l interface{}, data EventContext) bool {
		pressed = append(pressed, KeyCode(data.Data.U64[0]))
		return true
	}))
	require.True(t, EventRegister(EVENT_CODE_KEY_RELEASED, listener, func(code SystemEventCode, sender, l interface{}, data EventContext) bool {
		released = append(released, KeyCode(data.Data.U64[0]))
		return true
	}))

	InputProcessKey(KEY_R, true)
	InputProcessKey(KEY_R, true)
	assert.True(t, InputIsKeyDown(KEY_R))
	assert.False(t, InputWasKeyDown(KEY_R))

	require.NoError(t, InputUpdate(0.016))
	assert.True(t, InputWasKeyDown(KEY_R))

	InputProcessKey(KEY_R, false)
	assert.False(t, InputIsKeyDown(KEY_R))

	assert.Equal(t, []KeyCode{KEY_R}, pressed)
	assert.Equal(t, []KeyCode{KEY_R}, released)
}

func TestInputWithoutInitialize(t *testing.T) {
	InputProcessKey(KEY_ESCAPE, true)
	assert.False(t, InputIsKeyDown(KEY_ESCAPE))
	assert.NoError(t, InputUpdate(0))
}
