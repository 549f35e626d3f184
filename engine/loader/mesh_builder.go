package loader

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// meshBuilder accumulates an indexed triangle list, collapsing structurally identical
// vertices into one entry.
type meshBuilder struct {
	vertices []scene.Vertex
	indices  []uint32
	lookup   map[scene.Vertex]uint32
}

func newMeshBuilder() *meshBuilder {
	return &meshBuilder{lookup: make(map[scene.Vertex]uint32)}
}

// add appends v to the index list, reusing an earlier identical vertex when one exists.
func (b *meshBuilder) add(v scene.Vertex) {
	if idx, ok := b.lookup[v]; ok {
		b.indices = append(b.indices, idx)
		return
	}
	idx := uint32(len(b.vertices))
	b.lookup[v] = idx
	b.vertices = append(b.vertices, v)
	b.indices = append(b.indices, idx)
}

// mesh wraps the accumulated geometry as a triangle mesh. Index is left for the registry.
func (b *meshBuilder) mesh(materials []scene.Material, textures []common.TextureStagingData) *scene.Mesh {
	return &scene.Mesh{
		Index:     -1,
		Kind:      scene.MeshKindTriangles,
		Vertices:  b.vertices,
		Indices:   b.indices,
		Materials: materials,
		Textures:  textures,
	}
}

// generateNormals writes smooth vertex normals: each triangle's area-weighted face normal
// is accumulated onto its three vertices and the sums are normalized. Vertices touched by
// no triangle, or whose sum cancels out, get +Y.
//
// Parameters:
//   - vertices: the vertex slice to write normals into
//   - indices: the triangle index list
func generateNormals(vertices []scene.Vertex, indices []uint32) {
	n := uint32(len(vertices))
	accum := make([]common.Vec3, n)

	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		if i0 >= n || i1 >= n || i2 >= n {
			continue
		}
		p0 := vertices[i0].Position
		face := vertices[i1].Position.Sub(p0).Cross(vertices[i2].Position.Sub(p0))
		accum[i0] = accum[i0].Add(face)
		accum[i1] = accum[i1].Add(face)
		accum[i2] = accum[i2].Add(face)
	}

	for i := range vertices {
		if accum[i].Len() < 1e-6 {
			vertices[i].Normal = common.Vec3{0, 1, 0}
			continue
		}
		vertices[i].Normal = accum[i].Normalize()
	}
}

// defaultMaterial is used by files that declare no materials.
func defaultMaterial() scene.Material {
	return scene.DiffuseMaterial(common.Vec3{0.8, 0.8, 0.8}, scene.NoTexture, 0)
}
