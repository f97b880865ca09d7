package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position x axis, if applicable.
	StartPosX uint32 `toml:"pos_x"`
	// Window starting position y axis, if applicable.
	StartPosY uint32 `toml:"pos_y"`
	// Window starting width, if applicable.
	StartWidth uint32 `toml:"width"`
	// Window starting height, if applicable.
	StartHeight uint32 `toml:"height"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type SceneConfig struct {
	// Scene loaded once the renderer is up. Empty starts with an empty scene.
	Path string `toml:"path"`
	// Scenes streamed into the first one, in order, one per completed load.
	Append []string `toml:"append"`
	// Directory watched for modified scene files.
	WatchDir  string `toml:"watch_dir"`
	HotReload bool   `toml:"hot_reload"`
	// Parallel texture decoders per load.
	DecodeWorkers int `toml:"decode_workers"`
}

type RayTracingConfig struct {
	// Lower the device instance limit. Zero keeps the device value.
	MaxInstanceCount uint32 `toml:"max_instance_count"`
	// Lower the device primitive limit. Zero keeps the device value.
	MaxPrimitiveCount uint64 `toml:"max_primitive_count"`
	// Minimum number of entries in the material buffer.
	MinMaterialCount uint32 `toml:"min_material_count"`
	// Size of the bindless texture array.
	MaxTextureCount uint32 `toml:"max_texture_count"`
	// Directory of the compiled .spv ray-tracing shaders.
	ShaderDir string `toml:"shader_dir"`
	// Background load workers.
	JobWorkers int `toml:"job_workers"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Scene       SceneConfig       `toml:"scene"`
	RayTracing  RayTracingConfig  `toml:"raytracing"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:        "Lumen",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Log: LogConfig{Level: "info"},
		Scene: SceneConfig{
			WatchDir:      "assets/scenes",
			DecodeWorkers: 4,
		},
		RayTracing: RayTracingConfig{
			MinMaterialCount: 1,
			MaxTextureCount:  1024,
			ShaderDir:        "assets/shaders",
			JobWorkers:       1,
		},
	}
}

// Load reads a TOML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.New(strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes relative paths relative to the config file.
func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Scene.Path = abs(c.Scene.Path)
	c.Scene.WatchDir = abs(c.Scene.WatchDir)
	for i, p := range c.Scene.Append {
		c.Scene.Append[i] = abs(p)
	}
	c.RayTracing.ShaderDir = abs(c.RayTracing.ShaderDir)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Application.StartWidth == 0 || c.Application.StartHeight == 0 {
		errs = append(errs, fmt.Errorf("application: window size %dx%d must be positive", c.Application.StartWidth, c.Application.StartHeight))
	}
	if _, err := log.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Scene.HotReload && c.Scene.WatchDir == "" {
		errs = append(errs, errors.New("scene: hot_reload needs a watch_dir"))
	}
	if c.Scene.DecodeWorkers < 0 {
		errs = append(errs, fmt.Errorf("scene: decode_workers %d is negative", c.Scene.DecodeWorkers))
	}
	if c.RayTracing.MinMaterialCount == 0 {
		errs = append(errs, errors.New("raytracing: min_material_count must be at least 1"))
	}
	if c.RayTracing.MaxTextureCount < 2 {
		errs = append(errs, errors.New("raytracing: max_texture_count must leave room next to the fallback texture"))
	}
	if c.RayTracing.JobWorkers < 1 {
		errs = append(errs, errors.New("raytracing: job_workers must be at least 1"))
	}
	return errors.Join(errs...)
}
