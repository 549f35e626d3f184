// Package scene holds the host-side scene data: the GPU record types, the asset registry
// that assigns stable mesh indices, the consolidator that merges meshes into global
// arrays, and the live object graph that produces the instance list.
package scene

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// Vertex is the 36-byte consolidated vertex record.
type Vertex struct {
	Position      common.Vec3 // offset  0
	Normal        common.Vec3 // offset 12
	TexCoord      common.Vec2 // offset 24
	MaterialIndex int32       // offset 32
}

// VertexSize is the packed size of a Vertex.
const VertexSize = 36

// MaterialType selects how the material words are interpreted by the hit programs.
type MaterialType uint32

const (
	MaterialTypeNone MaterialType = iota
	MaterialTypeDiffuse
	MaterialTypeUber
)

// Material is the 80-byte material record (std430: VecData starts at offset 48).
type Material struct {
	Type      MaterialType  // offset  0
	IntData   [4]int32      // offset  4
	FloatData [4]float32    // offset 20
	_         [3]uint32     // offset 36
	VecData   [2][4]float32 // offset 48
}

// MaterialSize is the packed size of a Material.
const MaterialSize = 80

// NoTexture marks an unused texture slot in Material.IntData.
const NoTexture int32 = -1

// DiffuseMaterial returns a Lambertian material.
//
// Parameters:
//   - kd: the diffuse color
//   - kdTexture: index into the mesh's textures, or NoTexture
//   - sigma: the roughness parameter
//
// Returns:
//   - Material: the packed material
func DiffuseMaterial(kd common.Vec3, kdTexture int32, sigma float32) Material {
	m := Material{Type: MaterialTypeDiffuse}
	m.IntData = [4]int32{kdTexture, NoTexture, NoTexture, NoTexture}
	m.FloatData[0] = sigma
	m.VecData[0] = [4]float32{kd[0], kd[1], kd[2], -1}
	return m
}

// UberMaterial returns a metallic/roughness material.
//
// Parameters:
//   - albedo: the base color
//   - albedoTexture: index into the mesh's textures, or NoTexture
//   - metallic: metalness in [0, 1]
//   - roughness: roughness in [0, 1]
//
// Returns:
//   - Material: the packed material
func UberMaterial(albedo common.Vec3, albedoTexture int32, metallic, roughness float32) Material {
	m := Material{Type: MaterialTypeUber}
	m.IntData = [4]int32{albedoTexture, NoTexture, NoTexture, NoTexture}
	m.FloatData = [4]float32{metallic, roughness, 1, 0}
	m.VecData[0] = [4]float32{albedo[0], albedo[1], albedo[2], -1}
	return m
}

// Offset records where a mesh starts in the consolidated arrays (16-byte record).
type Offset struct {
	Index    uint32
	Vertex   uint32
	Material uint32
	_        uint32
}

// OffsetSize is the packed size of an Offset.
const OffsetSize = 16

// AABBPositions is the 24-byte bounding box record read by procedural builds.
type AABBPositions struct {
	Min common.Vec3
	Max common.Vec3
}

// AABBSize is the packed size of an AABBPositions.
const AABBSize = 24

// SphereParams is the 16-byte implicit-shape record read by the intersection program.
type SphereParams struct {
	Center common.Vec3
	Radius float32
}

// SphereParamsSize is the packed size of a SphereParams.
const SphereParamsSize = 16

// Bounds returns the box enclosing the sphere.
func (s SphereParams) Bounds() AABBPositions {
	r := common.Vec3{s.Radius, s.Radius, s.Radius}
	return AABBPositions{Min: s.Center.Sub(r), Max: s.Center.Add(r)}
}

// MeshKind tells the builders which geometry a mesh contributes.
type MeshKind int

const (
	// MeshKindTriangles meshes contribute an indexed triangle list.
	MeshKindTriangles MeshKind = iota

	// MeshKindAnalyticSphere meshes contribute one bounding box and are intersected procedurally.
	MeshKindAnalyticSphere
)

func (k MeshKind) String() string {
	switch k {
	case MeshKindTriangles:
		return "triangles"
	case MeshKindAnalyticSphere:
		return "sphere"
	default:
		return fmt.Sprintf("mesh kind(%d)", int(k))
	}
}

// Shading groups select the hit group record of an instance.
const (
	ShadingGroupTriangles  uint32 = 0
	ShadingGroupProcedural uint32 = 1
)

// ShadingGroup returns the hit group that handles hits on meshes of this kind.
func (k MeshKind) ShadingGroup() uint32 {
	if k == MeshKindAnalyticSphere {
		return ShadingGroupProcedural
	}
	return ShadingGroupTriangles
}

// Mesh is one unique geometry. It owns no device memory; consolidation copies its data
// into the global arrays.
type Mesh struct {
	// Name is the registry key the mesh was loaded from.
	Name string

	// Index is the stable mesh index assigned by the registry, or -1 before registration.
	Index int

	Kind      MeshKind
	Vertices  []Vertex
	Indices   []uint32
	Materials []Material

	// Textures referenced by the materials' texture slots, in slot order.
	Textures []common.TextureStagingData

	// Sphere is read only for MeshKindAnalyticSphere.
	Sphere SphereParams
}

// TriangleCount returns the number of indexed triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Bounds returns the object-space box of the mesh.
func (m *Mesh) Bounds() common.AABB {
	if m.Kind == MeshKindAnalyticSphere {
		b := m.Sphere.Bounds()
		return common.AABB{Min: b.Min, Max: b.Max}
	}
	box := common.EmptyAABB()
	for _, v := range m.Vertices {
		box = box.Extend(v.Position)
	}
	return box
}

// Validate checks the mesh is well formed: indices come in triples and stay inside the
// vertex list, and analytic meshes carry a positive radius.
//
// Returns:
//   - error: a KindContractViolation GpuError describing the first problem
func (m *Mesh) Validate() error {
	fail := func(format string, args ...any) error {
		return device.NewError(device.KindContractViolation, "scene", "validate mesh",
			fmt.Errorf("mesh %q: "+format, append([]any{m.Name}, args...)...))
	}
	switch m.Kind {
	case MeshKindTriangles:
		if len(m.Indices)%3 != 0 {
			return fail("index count %d is not a multiple of 3", len(m.Indices))
		}
		for i, idx := range m.Indices {
			if int(idx) >= len(m.Vertices) {
				return fail("index %d references vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
	case MeshKindAnalyticSphere:
		if m.Sphere.Radius <= 0 {
			return fail("sphere radius %v is not positive", m.Sphere.Radius)
		}
	default:
		return fail("unknown kind %v", m.Kind)
	}
	return nil
}

// Instance places a mesh in the world. Instances are rebuilt from the live objects for
// every top-level build and never persisted.
type Instance struct {
	MeshIndex int

	// Transform is the column-major object-to-world matrix.
	Transform [16]float32

	ShadingGroup uint32

	// Mask is ANDed with the ray mask during traversal. Zero means unset and packs as 0xFF,
	// so every ray sees the instance; remove an object from the scene to hide it.
	Mask uint8
}
