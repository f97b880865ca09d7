package metadata

/**
 * @brief The normalised output of every scene loader. Material indices of
 * meshes refer to Materials, texture indices of materials refer to Textures.
 */
type SceneResource struct {
	/** @brief The full file path of the resource. */
	FullPath  string
	Meshes    []*Mesh
	Materials []Material
	Textures  []*Texture
}
