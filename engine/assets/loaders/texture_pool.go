package loaders

import (
	"errors"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// textureJob produces one decoded texture.
type textureJob func() (*metadata.Texture, error)

// TexturePool decodes the textures of a scene in parallel. Workers exit after
// a second without work, so an idle pool costs nothing.
type TexturePool struct {
	pool worker.DynamicWorkerPool
}

func NewTexturePool(workers int) *TexturePool {
	if workers <= 0 {
		workers = 4
	}
	return &TexturePool{
		pool: worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
	}
}

// decodeAll runs every job and returns the textures in job order. All
// failures are joined into the returned error.
func (tp *TexturePool) decodeAll(jobs []textureJob) ([]*metadata.Texture, error) {
	textures := make([]*metadata.Texture, len(jobs))
	errs := make([]error, len(jobs))

	// WaitGroup barrier; the pool itself is kept alive between scenes
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		idx, run := i, job
		tp.pool.SubmitTask(worker.Task{
			ID: idx,
			Do: func() (any, error) {
				defer wg.Done()
				textures[idx], errs[idx] = run()
				return nil, nil
			},
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return textures, nil
}
