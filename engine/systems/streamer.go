package systems

import (
	"errors"
	"slices"
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
)

type streamRequest struct {
	path string
	mode loadMode
}

// SceneStreamer queues scene loads for the scene manager and feeds them one
// at a time from the render thread. Requests rejected because a load is in
// flight stay at the head of the queue and are retried on the next Update.
// With hot reload enabled, a change to any file of the resident scene queues
// a reload of the whole scene.
type SceneStreamer struct {
	scenes *SceneManager

	mu       sync.Mutex
	capacity int
	pending  *containers.RingQueue[streamRequest]
}

func NewSceneStreamer(scenes *SceneManager, capacity int) *SceneStreamer {
	if capacity <= 0 {
		capacity = 16
	}
	return &SceneStreamer{
		scenes:   scenes,
		capacity: capacity,
		pending:  containers.NewRingQueue[streamRequest](capacity),
	}
}

// Initialize subscribes to asset changes when hotReload is set.
func (ss *SceneStreamer) Initialize(hotReload bool) error {
	if !hotReload {
		return nil
	}
	if !core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, ss, ss.onAssetChanged) {
		return errors.New("scene streamer is already listening for asset changes")
	}
	return nil
}

func (ss *SceneStreamer) Shutdown() error {
	core.EventUnregister(core.EVENT_CODE_ASSET_CHANGED, ss)
	return nil
}

func (ss *SceneStreamer) Load(path string) error {
	return ss.enqueue(streamRequest{path: path, mode: loadReplace})
}

func (ss *SceneStreamer) Append(path string) error {
	return ss.enqueue(streamRequest{path: path, mode: loadAppend})
}

func (ss *SceneStreamer) enqueue(req streamRequest) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.pending.Enqueue(req)
}

func (ss *SceneStreamer) Pending() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.pending.Len()
}

// Update starts the next queued load if the scene manager is free. Called
// once per frame, after RenderTick.
func (ss *SceneStreamer) Update() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	req, err := ss.pending.Peek()
	if errors.Is(err, containers.ErrQueueEmpty) {
		return nil
	}

	switch req.mode {
	case loadAppend:
		err = ss.scenes.AppendScene(req.path)
	default:
		err = ss.scenes.LoadScene(req.path)
	}
	if errors.Is(err, core.ErrLoadInProgress) {
		return nil
	}
	_, _ = ss.pending.Dequeue()
	return err
}

func (ss *SceneStreamer) onAssetChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	changed := data.Data.C[0]
	root := ss.scenes.Path()
	appended := ss.scenes.Appended()
	if changed != root && !slices.Contains(appended, changed) {
		core.LogDebug("%q changed but is not part of the resident scene", changed)
		return false
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.pending.Len()+1+len(appended) > ss.capacity {
		core.LogWarn("hot reload of %q dropped, %d loads already queued", root, ss.pending.Len())
		return false
	}
	core.LogInfo("%q changed, reloading %q", changed, root)
	_ = ss.pending.Enqueue(streamRequest{path: root, mode: loadReplace})
	for _, p := range appended {
		_ = ss.pending.Enqueue(streamRequest{path: p, mode: loadAppend})
	}
	return false
}
