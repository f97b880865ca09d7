//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Ray tracing stages compiled to SPIR-V next to their sources.
var shaderStages = []string{"raytrace.rgen", "raytrace.rmiss", "raytrace.rchit"}

// Compiles the ray tracing shaders with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/lumen", "."), withStream())
	return err
}

func buildShaders() error {
	for _, stage := range shaderStages {
		src := filepath.Join(shaderDir, stage)
		// Ray tracing stages need SPIR-V 1.4.
		args := withArgs("--target-env=vulkan1.2", "-O", src, "-o", src+".spv")
		if _, err := executeCmd("glslc", args, withStream()); err != nil {
			return fmt.Errorf("compiling %s: %w", stage, err)
		}
	}
	return nil
}
