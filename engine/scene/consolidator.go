package scene

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// ConsolidateOptions configures Consolidate.
type ConsolidateOptions struct {
	// RayQuery makes the vertex and index buffers readable from shaders.
	RayQuery bool
}

// ConsolidatedScene is the merged form of an ordered mesh list. Every per-mesh array is
// index-aligned with the mesh list: entry i belongs to mesh index i.
type ConsolidatedScene struct {
	Vertices  []Vertex
	Indices   []uint32
	Materials []Material
	Textures  []common.TextureStagingData

	Offsets []Offset
	Kinds   []MeshKind

	// Triangle counts and vertex counts per mesh.
	TriangleCounts []uint32
	VertexCounts   []uint32

	// AABBs and Spheres hold zeroed placeholders for triangle meshes.
	AABBs   []AABBPositions
	Spheres []SphereParams

	RayQuery bool
}

// Consolidate merges meshes into global arrays. For every mesh in order it records the
// current array lengths as the mesh's Offset, appends the mesh data, and adds the
// pre-append material count to the material index of every appended vertex. Texture
// slots of appended materials are shifted the same way. The source meshes are not
// modified.
//
// Parameters:
//   - meshes: the meshes in mesh-index order
//   - opts: consolidation options
//
// Returns:
//   - *ConsolidatedScene: the merged arrays
//   - error: a KindContractViolation GpuError if a mesh is malformed or out of order
func Consolidate(meshes []*Mesh, opts ConsolidateOptions) (*ConsolidatedScene, error) {
	cs := &ConsolidatedScene{
		Offsets:        make([]Offset, 0, len(meshes)),
		Kinds:          make([]MeshKind, 0, len(meshes)),
		TriangleCounts: make([]uint32, 0, len(meshes)),
		VertexCounts:   make([]uint32, 0, len(meshes)),
		AABBs:          make([]AABBPositions, 0, len(meshes)),
		Spheres:        make([]SphereParams, 0, len(meshes)),
		RayQuery:       opts.RayQuery,
	}

	for i, m := range meshes {
		if m == nil {
			return nil, device.NewError(device.KindContractViolation, "scene", "consolidate", fmt.Errorf("mesh %d is nil", i))
		}
		if m.Index >= 0 && m.Index != i {
			return nil, device.NewError(device.KindContractViolation, "scene", "consolidate",
				fmt.Errorf("mesh %q has index %d but is at position %d", m.Name, m.Index, i))
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}

		off := Offset{
			Index:    uint32(len(cs.Indices)),
			Vertex:   uint32(len(cs.Vertices)),
			Material: uint32(len(cs.Materials)),
		}
		textureOffset := int32(len(cs.Textures))

		cs.Vertices = append(cs.Vertices, m.Vertices...)
		cs.Indices = append(cs.Indices, m.Indices...)
		cs.Materials = append(cs.Materials, m.Materials...)
		cs.Textures = append(cs.Textures, m.Textures...)

		for v := int(off.Vertex); v < len(cs.Vertices); v++ {
			cs.Vertices[v].MaterialIndex += int32(off.Material)
		}
		for mi := int(off.Material); mi < len(cs.Materials); mi++ {
			for slot, tex := range cs.Materials[mi].IntData {
				if tex >= 0 {
					cs.Materials[mi].IntData[slot] = tex + textureOffset
				}
			}
		}

		cs.Offsets = append(cs.Offsets, off)
		cs.Kinds = append(cs.Kinds, m.Kind)
		cs.TriangleCounts = append(cs.TriangleCounts, uint32(m.TriangleCount()))
		cs.VertexCounts = append(cs.VertexCounts, uint32(len(m.Vertices)))
		if m.Kind == MeshKindAnalyticSphere {
			cs.AABBs = append(cs.AABBs, m.Sphere.Bounds())
			cs.Spheres = append(cs.Spheres, m.Sphere)
		} else {
			cs.AABBs = append(cs.AABBs, AABBPositions{})
			cs.Spheres = append(cs.Spheres, SphereParams{})
		}
	}
	return cs, nil
}

// MeshCount returns the number of consolidated meshes.
func (cs *ConsolidatedScene) MeshCount() int {
	return len(cs.Offsets)
}

// HasAnalytic reports whether any mesh is an implicit shape.
func (cs *ConsolidatedScene) HasAnalytic() bool {
	for _, k := range cs.Kinds {
		if k != MeshKindTriangles {
			return true
		}
	}
	return false
}

// CheckMeshIndex reports a contract violation for a mesh index outside this consolidation.
//
// Parameters:
//   - index: the mesh index an instance references
//
// Returns:
//   - error: a KindContractViolation GpuError, or nil
func (cs *ConsolidatedScene) CheckMeshIndex(index int) error {
	if index < 0 || index >= len(cs.Offsets) {
		return device.NewError(device.KindContractViolation, "scene", "resolve mesh",
			fmt.Errorf("mesh index %d outside consolidated range [0, %d)", index, len(cs.Offsets)))
	}
	return nil
}
