package scene

import (
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fan builds a triangle mesh with the given vertex and triangle counts. Every vertex
// uses material index v % max(materials, 1).
func fan(name string, vertices, triangles, materials int) *Mesh {
	m := &Mesh{Name: name, Index: -1, Kind: MeshKindTriangles}
	for v := 0; v < vertices; v++ {
		m.Vertices = append(m.Vertices, Vertex{
			Position:      common.Vec3{float32(v), float32(v % 2), 0},
			MaterialIndex: int32(v % max(materials, 1)),
		})
	}
	for t := 0; t < triangles; t++ {
		m.Indices = append(m.Indices, 0, uint32((t+1)%vertices), uint32((t+2)%vertices))
	}
	for i := 0; i < materials; i++ {
		m.Materials = append(m.Materials, DiffuseMaterial(common.Vec3{float32(i), 0, 0}, NoTexture, 0))
	}
	return m
}

func TestConsolidateOffsets(t *testing.T) {
	meshes := []*Mesh{fan("a", 2, 2, 1), fan("b", 3, 3, 0), fan("c", 4, 4, 1)}

	cs, err := Consolidate(meshes, ConsolidateOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Offset{
		{Index: 0, Vertex: 0, Material: 0},
		{Index: 6, Vertex: 2, Material: 1},
		{Index: 15, Vertex: 5, Material: 1},
	}, cs.Offsets)
	assert.Len(t, cs.Vertices, 9)
	assert.Len(t, cs.Indices, 27)
	assert.Len(t, cs.Materials, 2)
	assert.Equal(t, []uint32{2, 3, 4}, cs.TriangleCounts)
	assert.Equal(t, []uint32{2, 3, 4}, cs.VertexCounts)
}

func TestConsolidateOffsetsAreMonotonic(t *testing.T) {
	var meshes []*Mesh
	for i := 0; i < 12; i++ {
		meshes = append(meshes, fan("m", 3+i%4, i%5, i%3))
	}
	cs, err := Consolidate(meshes, ConsolidateOptions{})
	require.NoError(t, err)

	for i := 1; i < len(meshes); i++ {
		prev, cur := cs.Offsets[i-1], cs.Offsets[i]
		assert.LessOrEqual(t, prev.Vertex+uint32(len(meshes[i-1].Vertices)), cur.Vertex)
		assert.LessOrEqual(t, prev.Index+uint32(len(meshes[i-1].Indices)), cur.Index)
		assert.LessOrEqual(t, prev.Material+uint32(len(meshes[i-1].Materials)), cur.Material)
	}
}

func TestConsolidateRewritesMaterialIndices(t *testing.T) {
	meshes := []*Mesh{fan("a", 3, 1, 2), fan("b", 4, 2, 3), fan("c", 5, 3, 1)}
	cs, err := Consolidate(meshes, ConsolidateOptions{})
	require.NoError(t, err)

	for mi, m := range meshes {
		off := cs.Offsets[mi]
		for v, orig := range m.Vertices {
			got := cs.Vertices[int(off.Vertex)+v].MaterialIndex
			assert.Equal(t, orig.MaterialIndex+int32(off.Material), got, "mesh %d vertex %d", mi, v)
		}
	}
	// source meshes are untouched
	assert.Equal(t, int32(1), meshes[1].Vertices[1].MaterialIndex)
}

func TestConsolidateShiftsTextureSlots(t *testing.T) {
	tex := common.TextureStagingData{Pixels: make([]byte, 4), Width: 1, Height: 1}
	a := fan("a", 3, 1, 1)
	a.Materials[0].IntData[0] = 0
	a.Textures = []common.TextureStagingData{tex, tex}
	b := fan("b", 3, 1, 1)
	b.Materials[0].IntData[0] = 1
	b.Textures = []common.TextureStagingData{tex, tex}

	cs, err := Consolidate([]*Mesh{a, b}, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Len(t, cs.Textures, 4)
	assert.Equal(t, int32(0), cs.Materials[0].IntData[0])
	assert.Equal(t, int32(3), cs.Materials[1].IntData[0])
	assert.Equal(t, NoTexture, cs.Materials[1].IntData[1])
}

func TestConsolidateImplicitShapes(t *testing.T) {
	sphere, err := GenerateShape(ShapeSphere)
	require.NoError(t, err)
	sphere.Sphere = SphereParams{Center: common.Vec3{1, 2, 3}, Radius: 2}
	box, err := GenerateShape(ShapeBox)
	require.NoError(t, err)

	cs, err := Consolidate([]*Mesh{box, sphere}, ConsolidateOptions{})
	require.NoError(t, err)
	require.True(t, cs.HasAnalytic())

	assert.Equal(t, []MeshKind{MeshKindTriangles, MeshKindAnalyticSphere}, cs.Kinds)
	assert.Equal(t, AABBPositions{}, cs.AABBs[0])
	assert.Equal(t, SphereParams{}, cs.Spheres[0])
	assert.Equal(t, AABBPositions{Min: common.Vec3{-1, 0, 1}, Max: common.Vec3{3, 4, 5}}, cs.AABBs[1])
	assert.Equal(t, sphere.Sphere, cs.Spheres[1])
	assert.Equal(t, uint32(0), cs.TriangleCounts[1])
}

func TestConsolidateContractViolations(t *testing.T) {
	bad := fan("bad", 3, 1, 0)
	bad.Indices[2] = 7
	_, err := Consolidate([]*Mesh{bad}, ConsolidateOptions{})
	assertViolation(t, err)

	misplaced := fan("m", 3, 1, 0)
	misplaced.Index = 4
	_, err = Consolidate([]*Mesh{misplaced}, ConsolidateOptions{})
	assertViolation(t, err)

	cs, err := Consolidate([]*Mesh{fan("a", 3, 1, 0)}, ConsolidateOptions{})
	require.NoError(t, err)
	require.NoError(t, cs.CheckMeshIndex(0))
	assertViolation(t, cs.CheckMeshIndex(1))
	assertViolation(t, cs.CheckMeshIndex(-1))
}

func TestUploadConsolidated(t *testing.T) {
	dev, err := device.NewDevice(device.WithWorkers(2), device.WithFenceTimeout(2*time.Second))
	require.NoError(t, err)
	defer dev.Release()
	ctx := context.Background()

	sphere, err := GenerateShape(ShapeSphere)
	require.NoError(t, err)
	meshes := []*Mesh{fan("a", 3, 2, 1), sphere, fan("c", 4, 4, 1)}
	cs, err := Consolidate(meshes, ConsolidateOptions{RayQuery: true})
	require.NoError(t, err)

	before := dev.Stats().Submissions
	sb, err := UploadConsolidated(ctx, dev, cs)
	require.NoError(t, err)
	assert.Equal(t, before+1, dev.Stats().Submissions, "all arrays go through one submission")

	check := func(b buffer.DeviceBuffer, want []byte) {
		t.Helper()
		got, err := buffer.Readback(ctx, dev, b, 0, uint64(len(want)))
		require.NoError(t, err)
		assert.Equal(t, want, got, b.Label())
	}
	check(sb.Vertices, common.SliceToBytes(cs.Vertices))
	check(sb.Indices, common.SliceToBytes(cs.Indices))
	check(sb.Materials, common.SliceToBytes(cs.Materials))
	check(sb.Offsets, common.SliceToBytes(cs.Offsets))
	check(sb.AABBs, common.SliceToBytes(cs.AABBs))
	check(sb.Spheres, common.SliceToBytes(cs.Spheres))

	assert.True(t, sb.Vertices.Usage().Has(device.BufferUsageStorage|device.BufferUsageAccelerationStructureBuildInput))
	require.Len(t, sb.Textures, 1)
	assert.Equal(t, uint32(1), sb.Textures[0].Width())
	assertViolation(t, sb.MeshIndexValid(3))

	sb.Release()
	stats := dev.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Memories)
	assert.Zero(t, stats.Images)
}

func TestUploadConsolidatedWithoutImplicitShapes(t *testing.T) {
	dev, err := device.NewDevice(device.WithWorkers(1))
	require.NoError(t, err)
	defer dev.Release()

	cs, err := Consolidate([]*Mesh{fan("a", 3, 1, 0)}, ConsolidateOptions{})
	require.NoError(t, err)
	sb, err := UploadConsolidated(context.Background(), dev, cs)
	require.NoError(t, err)
	defer sb.Release()

	assert.Nil(t, sb.AABBs)
	assert.Nil(t, sb.Spheres)
	assert.False(t, sb.Indices.Usage().Has(device.BufferUsageStorage))
	// no materials still yields a bindable record
	assert.Equal(t, uint64(MaterialSize), sb.Materials.Size())
}

func assertViolation(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	kind, ok := device.KindOf(err)
	require.True(t, ok, "error %v carries no GpuError", err)
	assert.Equal(t, device.KindContractViolation, kind)
}
