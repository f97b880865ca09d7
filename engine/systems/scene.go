package systems

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/diagnostics"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
)

type loadMode int

const (
	loadReplace loadMode = iota
	loadAppend
)

func (m loadMode) String() string {
	if m == loadAppend {
		return "append"
	}
	return "replace"
}

type loadResult struct {
	id       uuid.UUID
	path     string
	mode     loadMode
	resource *metadata.SceneResource
	err      error
}

type SceneManagerConfig struct {
	MaxTextureCount  uint32
	MinMaterialCount uint32
}

// SceneManager owns the GPU resident scene. Loads decode on the job system
// and are handed back through a single slot channel; RenderTick, on the
// render thread, is the only place the resident scene changes.
type SceneManager struct {
	device  renderer.Device
	loader  assets.SceneLoader
	jobs    *JobSystem
	diag    *diagnostics.Service
	builder *raytracing.Builder
	sync    *raytracing.DescriptorSync

	textures  *TextureSystem
	materials *MaterialSystem

	// one load in flight, released by RenderTick after consuming the result
	loading   *semaphore.Weighted
	completed chan loadResult

	mu             sync.Mutex
	generation     uint64
	path           string
	appended       []string
	meshes         []*metadata.Mesh
	scene          *raytracing.SceneStructures
	materialBuffer renderer.Buffer
	lastLoadErr    error
}

func NewSceneManager(config *SceneManagerConfig, device renderer.Device, set renderer.DescriptorSet, loader assets.SceneLoader, jobs *JobSystem, diag *diagnostics.Service) (*SceneManager, error) {
	if config.MaxTextureCount == 0 {
		config.MaxTextureCount = renderer.MaxBindlessTextures
	}
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: config.MaxTextureCount}, device)
	if err != nil {
		return nil, err
	}
	ms, err := NewMaterialSystem(&MaterialSystemConfig{MinMaterialCount: config.MinMaterialCount}, device)
	if err != nil {
		return nil, err
	}
	return &SceneManager{
		device:    device,
		loader:    loader,
		jobs:      jobs,
		diag:      diag,
		builder:   raytracing.NewBuilder(device, diag),
		sync:      raytracing.NewDescriptorSync(set),
		textures:  ts,
		materials: ms,
		loading:   semaphore.NewWeighted(1),
		completed: make(chan loadResult, 1),
	}, nil
}

// Initialize uploads the fallback texture and binds an empty scene.
func (sm *SceneManager) Initialize() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.textures.Initialize(); err != nil {
		return err
	}
	scene, err := sm.builder.Build(nil, nil, 0)
	if err != nil {
		return err
	}
	buf, err := sm.materials.CreateBuffer(nil)
	if err != nil {
		scene.Destroy()
		return err
	}
	bindings := raytracing.SceneBindings{Materials: buf, Textures: sm.textures.Images()}
	if err := sm.sync.Retarget(scene.TLAS, bindings); err != nil {
		buf.Destroy()
		scene.Destroy()
		return err
	}
	sm.scene = scene
	sm.materialBuffer = buf
	return nil
}

// LoadScene starts decoding path in the background. The decoded scene
// replaces the resident one on a later RenderTick. While another load is in
// flight the request is rejected with core.ErrLoadInProgress.
func (sm *SceneManager) LoadScene(path string) error {
	return sm.startLoad(path, loadReplace)
}

// AppendScene is LoadScene for streaming: the decoded content is appended to
// the resident scene.
func (sm *SceneManager) AppendScene(path string) error {
	return sm.startLoad(path, loadAppend)
}

func (sm *SceneManager) startLoad(path string, mode loadMode) error {
	if !sm.loading.TryAcquire(1) {
		return fmt.Errorf("%s %q: %w", mode, path, core.ErrLoadInProgress)
	}

	id := uuid.New()
	err := sm.jobs.Submit(metadata.JobTask{
		ID:   id,
		Name: "scene " + mode.String() + " " + path,
		OnStart: func() (interface{}, error) {
			return sm.loader.Load(path)
		},
		OnComplete: func(result interface{}) {
			sm.completed <- loadResult{id: id, path: path, mode: mode, resource: result.(*metadata.SceneResource)}
		},
		OnFailure: func(err error) {
			sm.completed <- loadResult{id: id, path: path, mode: mode, err: err}
		},
	})
	if err != nil {
		sm.loading.Release(1)
		return err
	}
	core.LogInfo("scene load %s started: %s %s", id, mode, path)
	return nil
}

// Loading reports whether a load has been started and not yet consumed.
func (sm *SceneManager) Loading() bool {
	if sm.loading.TryAcquire(1) {
		sm.loading.Release(1)
		return false
	}
	return true
}

// RenderTick applies a finished load, if any. It never blocks on loading.
// Decode failures leave the resident scene untouched and are not returned;
// the returned error is a device failure.
func (sm *SceneManager) RenderTick() error {
	select {
	case res := <-sm.completed:
		defer sm.loading.Release(1)
		return sm.apply(res)
	default:
		return nil
	}
}

// apply swaps the result in under the scene lock. Events fire after the
// lock is released so listeners may query the scene manager.
func (sm *SceneManager) apply(res loadResult) error {
	code, ctx, err := sm.applyLocked(res)
	if code != 0 {
		core.EventFire(code, sm, ctx)
	}
	return err
}

func (sm *SceneManager) applyLocked(res loadResult) (core.SystemEventCode, core.EventContext, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ctx := core.EventContext{}
	if res.err == nil && res.resource == nil {
		res.err = fmt.Errorf("loader returned no scene")
	}
	if res.err != nil {
		sm.lastLoadErr = res.err
		core.LogError("scene load %s of %q failed, keeping generation %d: %s", res.id, res.path, sm.generation, res.err.Error())
		ctx.Data.C[0] = res.path
		ctx.Data.C[1] = res.err.Error()
		return core.EVENT_CODE_SCENE_LOAD_FAILED, ctx, nil
	}

	if sm.scene == nil {
		return 0, ctx, fmt.Errorf("scene load %s: scene manager not initialized", res.id)
	}

	var err error
	switch res.mode {
	case loadReplace:
		err = sm.replaceLocked(res.resource)
	case loadAppend:
		err = sm.appendLocked(res.resource)
	}
	if err != nil {
		sm.lastLoadErr = err
		return 0, ctx, err
	}
	sm.lastLoadErr = nil
	if res.mode == loadReplace {
		sm.path = res.path
		sm.appended = nil
	} else {
		sm.appended = append(sm.appended, res.path)
	}

	core.LogInfo("scene generation %d live: %d meshes, %d materials, %d textures", sm.generation, len(sm.meshes), sm.materials.Count(), sm.textures.Count())
	ctx.Data.U64[0] = sm.generation
	ctx.Data.I32[0] = int32(len(sm.meshes))
	ctx.Data.I32[1] = int32(sm.materials.Count())
	ctx.Data.I32[2] = int32(sm.textures.Count())
	ctx.Data.C[0] = res.path
	return core.EVENT_CODE_SCENE_SWAPPED, ctx, nil
}

// replaceLocked builds the new scene next to the resident one, rebinds and
// only then retires every resident resource except the fallback texture.
func (sm *SceneManager) replaceLocked(res *metadata.SceneResource) error {
	if !sm.textures.Fits(1, len(res.Textures)) {
		return fmt.Errorf("scene %q: %d textures exceed the limit of %d", res.FullPath, len(res.Textures), sm.textures.Config.MaxTextureCount)
	}
	generation := sm.generation + 1
	materials, offset := Concat(nil, res.Materials, int32(metadata.FallbackTextureSlot+1))
	meshes := OffsetMeshes(res.Meshes, offset)

	scene, err := sm.builder.Build(meshes, nil, generation)
	if err != nil {
		return err
	}
	images, err := sm.textures.Upload(res.Textures)
	if err != nil {
		scene.Destroy()
		return err
	}
	buf, err := sm.materials.CreateBuffer(materials)
	if err != nil {
		destroyImages(images)
		scene.Destroy()
		return err
	}

	textures := append([]renderer.Image{sm.textures.Fallback()}, images...)
	retired := []raytracing.Retirable{}
	if sm.scene != nil {
		retired = append(retired, sm.scene.TLAS)
		for _, b := range sm.scene.BLASes {
			retired = append(retired, b)
		}
	}
	if sm.materialBuffer != nil {
		retired = append(retired, sm.materialBuffer)
	}
	bindings := raytracing.SceneBindings{Materials: buf, Textures: textures}

	// the old textures go in the same retire list as the structures
	oldTextures := sm.textures.Replace(images)
	if err := sm.sync.Retarget(scene.TLAS, bindings, append(retired, oldTextures...)...); err != nil {
		buf.Destroy()
		scene.Destroy()
		// Replace moved the old images out; put them back
		sm.restoreTextures(oldTextures)
		destroyImages(images)
		return err
	}

	sm.generation = generation
	sm.scene = scene
	sm.meshes = meshes
	sm.materials.Set(materials)
	sm.materialBuffer = buf
	return nil
}

// appendLocked streams new content into the resident top level structure.
func (sm *SceneManager) appendLocked(res *metadata.SceneResource) error {
	if !sm.textures.Fits(sm.textures.Count(), len(res.Textures)) {
		return fmt.Errorf("scene %q: %d more textures exceed the limit of %d", res.FullPath, len(res.Textures), sm.textures.Config.MaxTextureCount)
	}
	materials, offset := Concat(sm.materials.Materials(), res.Materials, int32(sm.textures.Count()))
	meshes := OffsetMeshes(res.Meshes, offset)

	blases, err := sm.builder.Append(sm.scene.TLAS, meshes)
	if err != nil {
		return err
	}
	rollback := func() {
		sm.scene.TLAS.DiscardUnbound()
		for _, b := range blases {
			b.Destroy()
		}
	}
	images, err := sm.textures.Upload(res.Textures)
	if err != nil {
		rollback()
		return err
	}
	buf, err := sm.materials.CreateBuffer(materials)
	if err != nil {
		destroyImages(images)
		rollback()
		return err
	}

	textures := append(sm.textures.Images(), images...)
	bindings := raytracing.SceneBindings{Materials: buf, Textures: textures}
	var retired []raytracing.Retirable
	if sm.materialBuffer != nil {
		retired = append(retired, sm.materialBuffer)
	}
	if err := sm.sync.Retarget(sm.scene.TLAS, bindings, retired...); err != nil {
		buf.Destroy()
		destroyImages(images)
		rollback()
		return err
	}

	sm.textures.Append(images)
	sm.scene.BLASes = append(sm.scene.BLASes, blases...)
	sm.meshes = append(sm.meshes, meshes...)
	sm.materials.Set(materials)
	sm.materialBuffer = buf
	return nil
}

func (sm *SceneManager) restoreTextures(old []raytracing.Retirable) {
	images := make([]renderer.Image, 0, len(old))
	for _, r := range old {
		images = append(images, r.(renderer.Image))
	}
	sm.textures.Replace(images)
}

func destroyImages(images []renderer.Image) {
	for _, img := range images {
		img.Destroy()
	}
}

// Shutdown destroys the resident scene. A load still in flight finishes on
// the job system and its result is dropped.
func (sm *SceneManager) Shutdown() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.device.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}
	if sm.scene != nil {
		sm.scene.Destroy()
		sm.scene = nil
	}
	if sm.materialBuffer != nil {
		sm.materialBuffer.Destroy()
		sm.materialBuffer = nil
	}
	sm.meshes = nil
	sm.materials.Set(nil)
	return sm.textures.Shutdown()
}

func (sm *SceneManager) Generation() uint64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.generation
}

// Path is the scene last loaded with LoadScene.
func (sm *SceneManager) Path() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.path
}

// Appended lists the scenes streamed into the resident one since the last
// replace, in order.
func (sm *SceneManager) Appended() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.appended...)
}

func (sm *SceneManager) Meshes() []*metadata.Mesh {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]*metadata.Mesh(nil), sm.meshes...)
}

func (sm *SceneManager) Materials() []metadata.Material {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.materials.Materials()
}

func (sm *SceneManager) MaterialBuffer() renderer.Buffer {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.materialBuffer
}

func (sm *SceneManager) Textures() []renderer.Image {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.textures.Images()
}

func (sm *SceneManager) Structures() *raytracing.SceneStructures {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.scene
}

func (sm *SceneManager) LastLoadError() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastLoadErr
}
