package assets

import "github.com/spaghettifunk/lumen/engine/renderer/metadata"

// Loader decodes one family of scene files into the normalised scene form.
type Loader interface {
	Load(path string) (*metadata.SceneResource, error)
	// Extensions lists the lower case file extensions handled, dot included.
	Extensions() []string
}

// SceneLoader is what the scene manager consumes. Load is called from a
// background worker and must not touch GPU state.
type SceneLoader interface {
	Load(path string) (*metadata.SceneResource, error)
}
