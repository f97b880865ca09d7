package loaders

import (
	"bufio"
	"fmt"
	stdmath "math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// mtlLibrary is the result of parsing one or more .mtl files. Texture
// references are file paths, resolved to indices by the OBJ loader.
type mtlLibrary struct {
	order     []string
	materials map[string]*mtlMaterial
}

type mtlMaterial struct {
	metadata.Material
	roughnessSet bool

	baseColorMap string
	normalMap    string
	emissiveMap  string
	roughnessMap string
}

func newMTLLibrary() *mtlLibrary {
	return &mtlLibrary{materials: make(map[string]*mtlMaterial)}
}

func (lib *mtlLibrary) parseFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	dir := filepath.Dir(filename)
	scanner := bufio.NewScanner(file)
	var current *mtlMaterial
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		if key == "newmtl" {
			if value == "" {
				return fmt.Errorf("%s:%d: newmtl without a name", filename, lineNo)
			}
			current = &mtlMaterial{Material: metadata.DefaultMaterial()}
			if _, exists := lib.materials[value]; !exists {
				lib.order = append(lib.order, value)
			}
			lib.materials[value] = current
			continue
		}
		if current == nil {
			core.LogWarn("%s:%d: '%s' before newmtl. Skipping...", filename, lineNo, key)
			continue
		}

		switch key {
		case "Kd":
			rgb, err := parseFloats(value, 3)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Kd: %w", filename, lineNo, err)
			}
			current.BaseColor[0], current.BaseColor[1], current.BaseColor[2] = rgb[0], rgb[1], rgb[2]
		case "Ke":
			rgb, err := parseFloats(value, 3)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Ke: %w", filename, lineNo, err)
			}
			copy(current.EmissiveColor[:], rgb)
		case "d":
			d, err := parseFloats(value, 1)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid d: %w", filename, lineNo, err)
			}
			current.BaseColor[3] = math.Clamp(d[0], 0, 1)
		case "Tr":
			tr, err := parseFloats(value, 1)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Tr: %w", filename, lineNo, err)
			}
			current.BaseColor[3] = 1 - math.Clamp(tr[0], 0, 1)
		case "Pm":
			pm, err := parseFloats(value, 1)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Pm: %w", filename, lineNo, err)
			}
			current.MetallicFactor = math.Clamp(pm[0], 0, 1)
		case "Pr":
			pr, err := parseFloats(value, 1)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Pr: %w", filename, lineNo, err)
			}
			current.RoughnessFactor = math.Clamp(pr[0], 0, 1)
			current.roughnessSet = true
		case "Ns":
			ns, err := parseFloats(value, 1)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid Ns: %w", filename, lineNo, err)
			}
			// Pr wins over the Blinn-Phong exponent
			if !current.roughnessSet {
				current.RoughnessFactor = float32(stdmath.Sqrt(2 / (float64(math.Clamp(ns[0], 0, 1000)) + 2)))
			}
		case "map_Kd":
			current.baseColorMap = mapPath(dir, value)
		case "map_Bump", "map_bump", "bump", "norm":
			current.normalMap = mapPath(dir, value)
		case "map_Ke":
			current.emissiveMap = mapPath(dir, value)
		case "map_Pr":
			current.roughnessMap = mapPath(dir, value)
		default:
			core.LogDebug("%s:%d: unsupported key '%s'. Skipping...", filename, lineNo, key)
		}
	}
	return scanner.Err()
}

// mapPath drops texture options such as "-bm 1.0" and resolves the file
// relative to the material library.
func mapPath(dir, value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	name := fields[len(fields)-1]
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, filepath.FromSlash(name))
}

func parseFloats(value string, n int) ([]float32, error) {
	fields := strings.Fields(value)
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
