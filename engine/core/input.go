package core

import "sync"

// Key code definitions. Only the keys the engine binds are mapped.
type KeyCode uint16

const (
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SPACE  KeyCode = 0x20

	KEY_LEFT  KeyCode = 0x25
	KEY_UP    KeyCode = 0x26
	KEY_RIGHT KeyCode = 0x27
	KEY_DOWN  KeyCode = 0x28

	KEY_A KeyCode = 0x41
	KEY_D KeyCode = 0x44
	KEY_E KeyCode = 0x45
	KEY_N KeyCode = 0x4E
	KEY_Q KeyCode = 0x51
	KEY_R KeyCode = 0x52
	KEY_S KeyCode = 0x53
	KEY_W KeyCode = 0x57

	KEY_F5 KeyCode = 0x74

	KEYS_MAX_KEYS KeyCode = 0xFF
)

// Keyboard state structure
type KeyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

// Input state structure that holds current and previous keyboard states
type InputState struct {
	mu               sync.Mutex
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
}

var inputStateMu sync.Mutex
var inputState *InputState = nil

func InputInitialize() error {
	inputStateMu.Lock()
	defer inputStateMu.Unlock()
	if inputState == nil {
		inputState = &InputState{}
		LogInfo("Input subsystem initialized.")
	}
	return nil
}

func InputShutdown() error {
	inputStateMu.Lock()
	defer inputStateMu.Unlock()
	inputState = nil
	return nil
}

func currentInputState() *InputState {
	inputStateMu.Lock()
	defer inputStateMu.Unlock()
	return inputState
}

// InputUpdate copies the current state to the previous one. Called once per
// frame after the frame has been drawn.
func InputUpdate(deltaTime float64) error {
	state := currentInputState()
	if state == nil {
		return nil
	}
	state.mu.Lock()
	state.KeyboardPrevious = state.KeyboardCurrent
	state.mu.Unlock()
	return nil
}

func InputIsKeyDown(key KeyCode) bool {
	state := currentInputState()
	if state == nil || key >= KEYS_MAX_KEYS {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.KeyboardCurrent.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	state := currentInputState()
	if state == nil || key >= KEYS_MAX_KEYS {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.KeyboardPrevious.Keys[key]
}

// InputProcessKey records a key transition and fires EVENT_CODE_KEY_PRESSED
// or EVENT_CODE_KEY_RELEASED. Repeats of the same state fire nothing.
func InputProcessKey(key KeyCode, pressed bool) {
	state := currentInputState()
	if state == nil || key >= KEYS_MAX_KEYS {
		return
	}
	state.mu.Lock()
	changed := state.KeyboardCurrent.Keys[key] != pressed
	state.KeyboardCurrent.Keys[key] = pressed
	state.mu.Unlock()
	if !changed {
		return
	}

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	ctx := EventContext{}
	ctx.Data.U64[0] = uint64(key)
	EventFire(code, nil, ctx)
}
