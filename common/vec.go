package common

import (
	"math"

	"github.com/chewxy/math32"
)

// Vec3 is a 3-component float32 vector.
type Vec3 [3]float32

// Vec2 is a 2-component float32 vector.
type Vec2 [2]float32

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Mul(o Vec3) Vec3 { return Vec3{v[0] * o[0], v[1] * o[1], v[2] * o[2]} }

func (v Vec3) Scale(s float32) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Dot(o Vec3) float32 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec3) Len() float32 { return math32.Sqrt(v.Dot(v)) }

// Normalize returns v scaled to unit length. A zero vector is returned unchanged.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Inverse returns the component-wise reciprocal of v. Zero components map to +Inf.
func (v Vec3) Inverse() Vec3 {
	var out Vec3
	for i := range v {
		if v[i] == 0 {
			out[i] = math32.Inf(1)
			continue
		}
		out[i] = 1 / v[i]
	}
	return out
}

// MaxComponent returns the largest of the three components.
func (v Vec3) MaxComponent() float32 { return math32.Max(v[0], math32.Max(v[1], v[2])) }

// MinVec3 returns the component-wise minimum of a and b.
func MinVec3(a, b Vec3) Vec3 {
	return Vec3{math32.Min(a[0], b[0]), math32.Min(a[1], b[1]), math32.Min(a[2], b[2])}
}

// MaxVec3 returns the component-wise maximum of a and b.
func MaxVec3(a, b Vec3) Vec3 {
	return Vec3{math32.Max(a[0], b[0]), math32.Max(a[1], b[1]), math32.Max(a[2], b[2])}
}

// AABB is an axis-aligned bounding box. The zero value is a degenerate box at the
// origin; use EmptyAABB for an accumulator.
type AABB struct {
	Min Vec3
	Max Vec3
}

// EmptyAABB returns an inverted box that any Extend call will overwrite.
//
// Returns:
//   - AABB: a box with Min = +MaxFloat32 and Max = -MaxFloat32
func EmptyAABB() AABB {
	return AABB{
		Min: Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// IsEmpty reports whether the box has not been extended by any point.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend grows the box to contain p.
func (b AABB) Extend(p Vec3) AABB {
	return AABB{Min: MinVec3(b.Min, p), Max: MaxVec3(b.Max, p)}
}

// Union grows the box to contain o.
func (b AABB) Union(o AABB) AABB {
	return AABB{Min: MinVec3(b.Min, o.Min), Max: MaxVec3(b.Max, o.Max)}
}

// Center returns the midpoint of the box.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// HalfArea returns half the surface area of the box, which is all the SAH cost needs.
func (b AABB) HalfArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	s := b.Max.Sub(b.Min)
	return s[0]*s[1] + s[1]*s[2] + s[0]*s[2]
}

// Transform returns the world-space box that encloses b after a row-major 3x4 transform.
//
// Parameters:
//   - t: the row-major 3x4 transform
//
// Returns:
//   - AABB: the transformed bounds
func (b AABB) Transform(t [12]float32) AABB {
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		corner := Vec3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		out = out.Extend(TransformPoint3x4(t, corner))
	}
	return out
}

// IntersectRay runs the slab test against a ray with a precomputed inverse direction.
//
// Parameters:
//   - origin: the ray origin
//   - invDir: the component-wise inverse of the ray direction
//   - tMax: the farthest distance of interest
//
// Returns:
//   - float32: the entry distance (clamped to 0), or +Inf on a miss
func (b AABB) IntersectRay(origin, invDir Vec3, tMax float32) float32 {
	tMin := float32(0)
	for axis := 0; axis < 3; axis++ {
		t1 := (b.Min[axis] - origin[axis]) * invDir[axis]
		t2 := (b.Max[axis] - origin[axis]) * invDir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math32.Max(tMin, t1)
		tMax = math32.Min(tMax, t2)
		if tMin > tMax {
			return math32.Inf(1)
		}
	}
	return tMin
}

// Ray is a half-line used by the software ray query.
type Ray struct {
	Origin    Vec3
	Direction Vec3
}

// IntersectTriangle runs the Möller–Trumbore test.
//
// Returns:
//   - float32: the hit distance
//   - bool: true if the ray hits the triangle in front of the origin
func IntersectTriangle(r Ray, a, b, c Vec3) (float32, bool) {
	const eps = 1e-7
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := r.Direction.Cross(e2)
	det := e1.Dot(p)
	if math32.Abs(det) < eps {
		return 0, false
	}
	inv := 1 / det
	s := r.Origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := r.Direction.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * inv
	if t <= eps {
		return 0, false
	}
	return t, true
}

// IntersectSphere returns the nearest positive hit distance of r against a sphere.
func IntersectSphere(r Ray, center Vec3, radius float32) (float32, bool) {
	oc := r.Origin.Sub(center)
	a := r.Direction.Dot(r.Direction)
	halfB := oc.Dot(r.Direction)
	c := oc.Dot(oc) - radius*radius
	disc := halfB*halfB - a*c
	if disc < 0 || a == 0 {
		return 0, false
	}
	sq := math32.Sqrt(disc)
	t := (-halfB - sq) / a
	if t <= 1e-6 {
		t = (-halfB + sq) / a
		if t <= 1e-6 {
			return 0, false
		}
	}
	return t, true
}
