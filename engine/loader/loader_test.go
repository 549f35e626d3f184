package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `# unit quad in the XY plane
mtllib quad.mtl
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
usemtl red
f 1/1 2/2 3/3
usemtl blue
f -4/-4 -2/-2 -1/-1
`

const quadMTL = `newmtl blue
Kd 0 0 1
newmtl red
Kd 1 0 0
Pr 0.25
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(t *testing.T) Loader {
	t.Helper()
	l := NewLoader(WithWorkers(2))
	t.Cleanup(l.Release)
	return l
}

func TestLoadOBJ(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "quad.obj", quadOBJ)
	writeFile(t, dir, "quad.mtl", quadMTL)

	m, err := newTestLoader(t).LoadMesh(path)
	require.NoError(t, err)

	assert.Equal(t, -1, m.Index)
	assert.Equal(t, scene.MeshKindTriangles, m.Kind)
	assert.Equal(t, 2, m.TriangleCount())
	// corners 1 and 3 are shared by both faces but carry different materials
	assert.Len(t, m.Vertices, 6)

	require.Len(t, m.Materials, 2)
	assert.Equal(t, [4]float32{0, 0, 1, -1}, m.Materials[0].VecData[0])
	assert.Equal(t, [4]float32{1, 0, 0, -1}, m.Materials[1].VecData[0])
	assert.Equal(t, float32(0.25), m.Materials[1].FloatData[0])

	assert.Equal(t, int32(1), m.Vertices[m.Indices[0]].MaterialIndex)
	assert.Equal(t, int32(0), m.Vertices[m.Indices[3]].MaterialIndex)

	// v is flipped
	assert.Equal(t, common.Vec2{0, 1}, m.Vertices[m.Indices[0]].TexCoord)
	assert.Equal(t, common.Vec2{1, 0}, m.Vertices[m.Indices[2]].TexCoord)

	for _, v := range m.Vertices {
		assert.InDelta(t, 1, v.Normal[2], 1e-6, "generated normal should face +Z")
	}
}

func TestLoadOBJDeduplicatesVertices(t *testing.T) {
	obj := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nvn 0 0 1\nf 1//1 2//1 3//1 4//1\n"
	m, err := newTestLoader(t).LoadReader(strings.NewReader(obj), FormatOBJ, "")
	require.NoError(t, err)

	assert.Len(t, m.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, m.Indices)
	require.Len(t, m.Materials, 1, "a file without materials gets the default one")
	for _, v := range m.Vertices {
		assert.Equal(t, common.Vec3{0, 0, 1}, v.Normal)
		assert.Equal(t, int32(0), v.MaterialIndex)
	}
}

func TestLoadOBJErrors(t *testing.T) {
	l := newTestLoader(t)

	_, err := l.LoadReader(strings.NewReader("v 0 0 0\nf 1 2 3\n"), FormatOBJ, "")
	assert.ErrorContains(t, err, "line 2")

	_, err = l.LoadReader(strings.NewReader("v 0 0\n"), FormatOBJ, "")
	assert.Error(t, err)

	_, err = l.LoadMesh(filepath.Join(t.TempDir(), "mesh.fbx"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// gltfTriangle builds a one-triangle document with a uint16 index buffer and a node
// translation of (0, 0, 5). The returned bytes are the JSON document and the binary
// buffer it references.
func gltfTriangle(t *testing.T, embedBuffer bool) ([]byte, []byte) {
	t.Helper()
	var bin bytes.Buffer
	positions := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}
	require.NoError(t, binary.Write(&bin, binary.LittleEndian, positions))
	require.NoError(t, binary.Write(&bin, binary.LittleEndian, []uint16{0, 1, 2, 0}))

	buffer := map[string]any{"byteLength": bin.Len()}
	if embedBuffer {
		buffer["uri"] = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(bin.Bytes())
	}
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scene":  0,
		"scenes": []any{map[string]any{"nodes": []int{0}}},
		"nodes": []any{
			map[string]any{"children": []int{1}, "translation": []float32{0, 0, 5}},
			map[string]any{"mesh": 0, "scale": []float32{2, 2, 2}},
		},
		"meshes": []any{map[string]any{
			"primitives": []any{map[string]any{
				"attributes": map[string]int{"POSITION": 0},
				"indices":    1,
				"material":   0,
			}},
		}},
		"materials": []any{map[string]any{
			"pbrMetallicRoughness": map[string]any{
				"baseColorFactor": []float32{0.5, 0.25, 1, 1},
				"metallicFactor":  0.0,
				"roughnessFactor": 0.5,
			},
		}},
		"accessors": []any{
			map[string]any{"bufferView": 0, "componentType": gltfComponentTypeFloat, "count": 3, "type": "VEC3"},
			map[string]any{"bufferView": 1, "componentType": gltfComponentTypeUnsignedShort, "count": 3, "type": "SCALAR"},
		},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]any{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"buffers": []any{buffer},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data, bin.Bytes()
}

func assertTriangle(t *testing.T, m *scene.Mesh) {
	t.Helper()
	require.Len(t, m.Vertices, 3)
	assert.Equal(t, []uint32{0, 1, 2}, m.Indices)
	assert.Equal(t, common.Vec3{0, 0, 5}, m.Vertices[0].Position)
	assert.Equal(t, common.Vec3{2, 0, 5}, m.Vertices[1].Position)
	assert.Equal(t, common.Vec3{0, 2, 5}, m.Vertices[2].Position)
	for _, v := range m.Vertices {
		assert.InDelta(t, 1, v.Normal[2], 1e-6)
	}

	require.Len(t, m.Materials, 1)
	mat := m.Materials[0]
	assert.Equal(t, scene.MaterialTypeUber, mat.Type)
	assert.Equal(t, scene.NoTexture, mat.IntData[0])
}

func TestLoadGLTF(t *testing.T) {
	data, _ := gltfTriangle(t, true)
	path := writeFile(t, t.TempDir(), "tri.gltf", string(data))

	m, err := newTestLoader(t).LoadMesh(path)
	require.NoError(t, err)
	assertTriangle(t, m)
}

func TestLoadGLB(t *testing.T) {
	jsonData, bin := gltfTriangle(t, false)
	for len(jsonData)%4 != 0 {
		jsonData = append(jsonData, ' ')
	}
	for len(bin)%4 != 0 {
		bin = append(bin, 0)
	}

	var glb bytes.Buffer
	total := 12 + 8 + len(jsonData) + 8 + len(bin)
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBHeader{Magic: gltfGLBMagic, Version: gltfGLBVersion, Length: uint32(total)}))
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(jsonData)), ChunkType: gltfGLBChunkJSON}))
	glb.Write(jsonData)
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(bin)), ChunkType: gltfGLBChunkBIN}))
	glb.Write(bin)

	m, err := newTestLoader(t).LoadReader(&glb, FormatGLTF, "")
	require.NoError(t, err)
	assertTriangle(t, m)
}

func TestLoadGLTFRejectsBadDocuments(t *testing.T) {
	l := newTestLoader(t)

	_, err := l.LoadReader(strings.NewReader(`{"asset":{"version":"1.0"}}`), FormatGLTF, "")
	assert.ErrorIs(t, err, errInvalidGLTFVersion)

	_, err = l.LoadReader(strings.NewReader(`{"asset":{"version":"2.0"}}`), FormatGLTF, "")
	assert.ErrorContains(t, err, "no triangles")
}

func TestGLTFNodeMatrix(t *testing.T) {
	// 90 degrees about Y maps +X to -Z
	s := float32(0.70710678)
	m := gltfNodeMatrix(&gltfNode{Rotation: &[4]float32{0, s, 0, s}})
	p := common.TransformPoint3x4(common.RowMajor3x4(m[:]), common.Vec3{1, 0, 0})
	assert.InDelta(t, 0, p[0], 1e-5)
	assert.InDelta(t, -1, p[2], 1e-5)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	quad := writeFile(t, dir, "quad.obj", quadOBJ)
	writeFile(t, dir, "quad.mtl", quadMTL)
	data, _ := gltfTriangle(t, true)
	tri := writeFile(t, dir, "tri.gltf", string(data))

	l := newTestLoader(t)
	registry := scene.NewSceneAssetRegistry(scene.WithMeshLoader(l))
	defer registry.Release()

	indices, err := l.LoadAll(registry, []string{quad, scene.ShapeBox, quad, tri, scene.ShapeSphere})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 2, 3}, indices)
	assert.Equal(t, 4, registry.Len())

	m, err := registry.Mesh(2)
	require.NoError(t, err)
	assert.Equal(t, tri, m.Name)

	// a second batch only resolves
	again, err := l.LoadAll(registry, []string{tri, quad})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, again)

	_, err = l.LoadAll(registry, []string{filepath.Join(dir, "missing.obj")})
	assert.Error(t, err)
	assert.Equal(t, 4, registry.Len())
}
