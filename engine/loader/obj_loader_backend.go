package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// objLoaderBackendImpl reads Wavefront OBJ files and their MTL libraries.
type objLoaderBackendImpl struct {
	logger logger.Logger
}

var _ loaderBackend = &objLoaderBackendImpl{}

func newOBJLoaderBackend(l logger.Logger) loaderBackend {
	return &objLoaderBackendImpl{logger: l}
}

func (b *objLoaderBackendImpl) Load(path string) (*scene.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return b.LoadReader(f, filepath.Dir(path))
}

// objMaterial is one newmtl block of an MTL library.
type objMaterial struct {
	name    string
	kd      common.Vec3
	sigma   float32
	diffuse string
}

// objState is the running state of one OBJ parse.
type objState struct {
	baseDir   string
	positions []common.Vec3
	normals   []common.Vec3
	texCoords []common.Vec2

	materials     []objMaterial
	materialIndex map[string]int
	current       int32

	builder *meshBuilder
}

func (b *objLoaderBackendImpl) LoadReader(r io.Reader, baseDir string) (*scene.Mesh, error) {
	st := &objState{
		baseDir:       baseDir,
		materialIndex: make(map[string]int),
		builder:       newMeshBuilder(),
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if err := b.parseLine(st, fields); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read OBJ: %w", err)
	}

	if len(st.normals) == 0 {
		generateNormals(st.builder.vertices, st.builder.indices)
	}

	materials, textures := b.resolveMaterials(st)
	return st.builder.mesh(materials, textures), nil
}

func (b *objLoaderBackendImpl) parseLine(st *objState, fields []string) error {
	switch fields[0] {
	case "v":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		st.positions = append(st.positions, common.Vec3{v[0], v[1], v[2]})
	case "vn":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("normal: %w", err)
		}
		st.normals = append(st.normals, common.Vec3{v[0], v[1], v[2]}.Normalize())
	case "vt":
		v, err := parseFloats(fields[1:], 2)
		if err != nil {
			return fmt.Errorf("texcoord: %w", err)
		}
		st.texCoords = append(st.texCoords, common.Vec2{v[0], 1 - v[1]})
	case "f":
		return b.parseFace(st, fields[1:])
	case "mtllib":
		for _, name := range fields[1:] {
			if err := b.loadMaterialLibrary(st, filepath.Join(st.baseDir, name)); err != nil {
				b.logger.Warningf("skipping material library %s: %v", name, err)
			}
		}
	case "usemtl":
		st.current = -1
		if len(fields) > 1 {
			if idx, ok := st.materialIndex[fields[1]]; ok {
				st.current = int32(idx)
			}
		}
	}
	return nil
}

// parseFace fan-triangulates a polygon.
func (b *objLoaderBackendImpl) parseFace(st *objState, refs []string) error {
	if len(refs) < 3 {
		return fmt.Errorf("face has %d vertices", len(refs))
	}
	corners := make([]scene.Vertex, len(refs))
	for i, ref := range refs {
		v, err := st.corner(ref)
		if err != nil {
			return fmt.Errorf("face: %w", err)
		}
		corners[i] = v
	}
	for i := 1; i+1 < len(corners); i++ {
		st.builder.add(corners[0])
		st.builder.add(corners[i])
		st.builder.add(corners[i+1])
	}
	return nil
}

// corner resolves one "p", "p/t", "p//n" or "p/t/n" reference. Negative references count
// back from the end of the list.
func (st *objState) corner(ref string) (scene.Vertex, error) {
	parts := strings.Split(ref, "/")
	v := scene.Vertex{MaterialIndex: max(st.current, 0)}

	pi, err := resolveRef(parts[0], len(st.positions))
	if err != nil {
		return v, fmt.Errorf("position %q: %w", ref, err)
	}
	v.Position = st.positions[pi]

	if len(parts) > 1 && parts[1] != "" {
		ti, err := resolveRef(parts[1], len(st.texCoords))
		if err != nil {
			return v, fmt.Errorf("texcoord %q: %w", ref, err)
		}
		v.TexCoord = st.texCoords[ti]
	}
	if len(parts) > 2 && parts[2] != "" {
		ni, err := resolveRef(parts[2], len(st.normals))
		if err != nil {
			return v, fmt.Errorf("normal %q: %w", ref, err)
		}
		v.Normal = st.normals[ni]
	}
	return v, nil
}

func resolveRef(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i = n + i
	} else {
		i--
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("reference %s outside %d entries", s, n)
	}
	return i, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d components, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := range out {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (b *objLoaderBackendImpl) loadMaterialLibrary(st *objState, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var cur *objMaterial
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0][0] == '#' {
			continue
		}
		switch fields[0] {
		case "newmtl":
			st.materialIndex[fields[1]] = len(st.materials)
			st.materials = append(st.materials, objMaterial{name: fields[1], kd: common.Vec3{0.8, 0.8, 0.8}})
			cur = &st.materials[len(st.materials)-1]
		case "Kd":
			if cur == nil {
				continue
			}
			if v, err := parseFloats(fields[1:], 3); err == nil {
				cur.kd = common.Vec3{v[0], v[1], v[2]}
			}
		case "Pr":
			if cur == nil {
				continue
			}
			if v, err := parseFloats(fields[1:], 1); err == nil {
				cur.sigma = v[0]
			}
		case "map_Kd":
			if cur != nil {
				cur.diffuse = filepath.Join(filepath.Dir(path), fields[len(fields)-1])
			}
		}
	}
	return scanner.Err()
}

// resolveMaterials packs the MTL materials and decodes their diffuse maps. Each distinct
// map path becomes one texture slot. A map that fails to decode is dropped with a warning.
func (b *objLoaderBackendImpl) resolveMaterials(st *objState) ([]scene.Material, []common.TextureStagingData) {
	if len(st.materials) == 0 {
		return []scene.Material{defaultMaterial()}, nil
	}

	var textures []common.TextureStagingData
	slots := make(map[string]int32)
	materials := make([]scene.Material, len(st.materials))
	for i, m := range st.materials {
		slot := scene.NoTexture
		if m.diffuse != "" {
			if s, ok := slots[m.diffuse]; ok {
				slot = s
			} else {
				tex := &common.ImportedTexture{Name: m.name, Path: m.diffuse}
				data, err := tex.Decode()
				if err != nil {
					b.logger.Warningf("material %q: %v", m.name, err)
				} else {
					slot = int32(len(textures))
					slots[m.diffuse] = slot
					textures = append(textures, data)
				}
			}
		}
		materials[i] = scene.DiffuseMaterial(m.kd, slot, m.sigma)
	}
	return materials, textures
}
