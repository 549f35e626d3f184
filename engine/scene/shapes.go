package scene

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/chewxy/math32"
)

// Generated shapes are registered under these tags instead of a file path.
const (
	ShapeBox      = "oxy::box"
	ShapePlane    = "oxy::plane"
	ShapeCylinder = "oxy::cylinder"
	ShapeSphere   = "oxy::sphere"
)

// cylinderSegments is the number of side quads of the generated cylinder.
const cylinderSegments = 32

var defaultShapeMaterial = DiffuseMaterial(common.Vec3{0.8, 0.8, 0.8}, NoTexture, 0)

// IsShapeTag reports whether source names a generated shape rather than a file.
func IsShapeTag(source string) bool {
	return strings.HasPrefix(source, "oxy::")
}

// GenerateShape builds the unit-sized mesh for a shape tag.
//
// Parameters:
//   - tag: one of ShapeBox, ShapePlane, ShapeCylinder, ShapeSphere
//
// Returns:
//   - *Mesh: the generated mesh, not yet registered
//   - error: if the tag is unknown
func GenerateShape(tag string) (*Mesh, error) {
	var m *Mesh
	switch tag {
	case ShapeBox:
		m = generateBox()
	case ShapePlane:
		m = generatePlane()
	case ShapeCylinder:
		m = generateCylinder(cylinderSegments)
	case ShapeSphere:
		m = &Mesh{Kind: MeshKindAnalyticSphere, Sphere: SphereParams{Radius: 0.5}}
	default:
		return nil, fmt.Errorf("unknown shape %q", tag)
	}
	m.Name = tag
	m.Index = -1
	m.Materials = []Material{defaultShapeMaterial}
	return m, nil
}

// generateBox builds a unit cube centered at the origin with per-face normals.
func generateBox() *Mesh {
	faces := []struct {
		normal, u, v common.Vec3
	}{
		{common.Vec3{0, 1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}},
		{common.Vec3{0, -1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, 1}},
		{common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}, common.Vec3{0, 1, 0}},
		{common.Vec3{-1, 0, 0}, common.Vec3{0, 0, 1}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 0, 1}, common.Vec3{1, 0, 0}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 0, -1}, common.Vec3{-1, 0, 0}, common.Vec3{0, 1, 0}},
	}
	m := &Mesh{Kind: MeshKindTriangles}
	for _, f := range faces {
		appendQuad(m, f.normal.Scale(0.5), f.u.Scale(0.5), f.v.Scale(0.5), f.normal)
	}
	return m
}

// generatePlane builds a unit quad in the XZ plane facing +Y.
func generatePlane() *Mesh {
	m := &Mesh{Kind: MeshKindTriangles}
	appendQuad(m, common.Vec3{}, common.Vec3{0.5, 0, 0}, common.Vec3{0, 0, -0.5}, common.Vec3{0, 1, 0})
	return m
}

// appendQuad adds the quad center±u±v as two counter-clockwise triangles.
func appendQuad(m *Mesh, center, u, v, normal common.Vec3) {
	base := uint32(len(m.Vertices))
	corners := [4]struct {
		su, sv float32
		uv     common.Vec2
	}{
		{-1, -1, common.Vec2{0, 1}},
		{1, -1, common.Vec2{1, 1}},
		{1, 1, common.Vec2{1, 0}},
		{-1, 1, common.Vec2{0, 0}},
	}
	for _, c := range corners {
		m.Vertices = append(m.Vertices, Vertex{
			Position: center.Add(u.Scale(c.su)).Add(v.Scale(c.sv)),
			Normal:   normal,
			TexCoord: c.uv,
		})
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}

// generateCylinder builds a cylinder of radius 0.5 and height 1 along Y.
func generateCylinder(segments int) *Mesh {
	m := &Mesh{Kind: MeshKindTriangles}
	ring := func(y float32, normalY float32, radial bool) uint32 {
		base := uint32(len(m.Vertices))
		for i := 0; i <= segments; i++ {
			a := 2 * math32.Pi * float32(i) / float32(segments)
			x, z := math32.Cos(a), math32.Sin(a)
			n := common.Vec3{0, normalY, 0}
			if radial {
				n = common.Vec3{x, 0, z}
			}
			m.Vertices = append(m.Vertices, Vertex{
				Position: common.Vec3{0.5 * x, y, 0.5 * z},
				Normal:   n,
				TexCoord: common.Vec2{float32(i) / float32(segments), 0.5 - y},
			})
		}
		return base
	}

	// sides
	bottom := ring(-0.5, 0, true)
	top := ring(0.5, 0, true)
	for i := uint32(0); i < uint32(segments); i++ {
		m.Indices = append(m.Indices,
			bottom+i, top+i+1, bottom+i+1,
			bottom+i, top+i, top+i+1,
		)
	}

	// caps
	for _, c := range []struct {
		y    float32
		flip bool
	}{{0.5, false}, {-0.5, true}} {
		normalY := float32(1)
		if c.flip {
			normalY = -1
		}
		center := uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices, Vertex{
			Position: common.Vec3{0, c.y, 0},
			Normal:   common.Vec3{0, normalY, 0},
			TexCoord: common.Vec2{0.5, 0.5},
		})
		rim := ring(c.y, normalY, false)
		for i := uint32(0); i < uint32(segments); i++ {
			if c.flip {
				m.Indices = append(m.Indices, center, rim+i, rim+i+1)
			} else {
				m.Indices = append(m.Indices, center, rim+i+1, rim+i)
			}
		}
	}
	return m
}
