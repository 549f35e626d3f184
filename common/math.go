package common

import (
	"github.com/chewxy/math32"
)

// Identity resets a 4x4 matrix (flat slice) to the identity matrix.
// The matrix is stored in column-major order.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	for i := range m {
		m[i] = 0
	}
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
}

// IdentityMatrix returns a new column-major 4x4 identity matrix.
//
// Returns:
//   - [16]float32: the identity matrix
func IdentityMatrix() [16]float32 {
	var m [16]float32
	Identity(m[:])
	return m
}

// Mul4 multiplies two 4x4 matrices and stores the result in out.
// All matrices are stored in column-major order.
// Result: out = a * b
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - a: left-hand matrix (16 elements)
//   - b: right-hand matrix (16 elements)
func Mul4(out, a, b []float32) {
	var buf [16]float32
	for i := 0; i < 4; i++ { // column of B
		for j := 0; j < 4; j++ { // row of A
			sum := float32(0)
			for k := 0; k < 4; k++ {
				sum += a[k*4+j] * b[i*4+k]
			}
			buf[i*4+j] = sum
		}
	}
	copy(out, buf[:])
}

// Transpose4 transposes a 4x4 matrix into out. out and m may alias.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - m: source matrix (16 elements)
func Transpose4(out, m []float32) {
	var buf [16]float32
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			buf[r*4+c] = m[c*4+r]
		}
	}
	copy(out, buf[:])
}

// RowMajor3x4 converts a column-major 4x4 affine transform into the row-major 3x4
// layout used by instance records. Only the top three rows are kept; the fourth row
// of an affine transform is always (0, 0, 0, 1).
//
// Parameters:
//   - m: source matrix (16 elements, column-major)
//
// Returns:
//   - [12]float32: rows 0..2 of m, each stored as 4 consecutive floats
func RowMajor3x4(m []float32) [12]float32 {
	var out [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m[c*4+r]
		}
	}
	return out
}

// TransformPoint3x4 applies a row-major 3x4 transform to a point.
//
// Parameters:
//   - t: the row-major 3x4 transform
//   - p: the point to transform
//
// Returns:
//   - Vec3: the transformed point
func TransformPoint3x4(t [12]float32, p Vec3) Vec3 {
	return Vec3{
		t[0]*p[0] + t[1]*p[1] + t[2]*p[2] + t[3],
		t[4]*p[0] + t[5]*p[1] + t[6]*p[2] + t[7],
		t[8]*p[0] + t[9]*p[1] + t[10]*p[2] + t[11],
	}
}

// TransformVector3x4 applies the linear part of a row-major 3x4 transform to a direction.
//
// Parameters:
//   - t: the row-major 3x4 transform
//   - v: the direction to transform
//
// Returns:
//   - Vec3: the transformed direction (not normalized)
func TransformVector3x4(t [12]float32, v Vec3) Vec3 {
	return Vec3{
		t[0]*v[0] + t[1]*v[1] + t[2]*v[2],
		t[4]*v[0] + t[5]*v[1] + t[6]*v[2],
		t[8]*v[0] + t[9]*v[1] + t[10]*v[2],
	}
}

// Invert3x4 inverts a row-major 3x4 affine transform.
//
// Returns:
//   - [12]float32: the inverse transform
//   - bool: false if the linear part is singular
func Invert3x4(t [12]float32) ([12]float32, bool) {
	var full, inv [16]float32
	// lift into column-major 4x4
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			full[c*4+r] = t[r*4+c]
		}
	}
	full[15] = 1
	if !Invert4(inv[:], full[:]) {
		return [12]float32{}, false
	}
	return RowMajor3x4(inv[:]), true
}

// Perspective creates a perspective projection matrix.
// Uses the WebGPU/Vulkan clip space depth range [0, 1].
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
func Perspective(out []float32, fovY, aspect, near, far float32) {
	f := 1.0 / math32.Tan(fovY/2.0)
	Identity(out)

	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	out[15] = 0.0
}

// BuildModelMatrix constructs a 4x4 model matrix from position, Euler rotation, and scale.
// The rotation order is Y * X * Z (yaw-pitch-roll). All matrices are column-major.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - pos: translation in world space
//   - rot: rotation angles in radians around each axis
//   - scale: scale factors along each axis
func BuildModelMatrix(out []float32, pos, rot, scale Vec3) {
	cx, sx := math32.Cos(rot[0]), math32.Sin(rot[0])
	cy, sy := math32.Cos(rot[1]), math32.Sin(rot[1])
	cz, sz := math32.Cos(rot[2]), math32.Sin(rot[2])

	// R = Ry * Rx * Rz, column-major
	out[0] = (cy*cz + sy*sx*sz) * scale[0]
	out[1] = (cx * sz) * scale[0]
	out[2] = (-sy*cz + cy*sx*sz) * scale[0]
	out[3] = 0

	out[4] = (cy*-sz + sy*sx*cz) * scale[1]
	out[5] = (cx * cz) * scale[1]
	out[6] = (sy*sz + cy*sx*cz) * scale[1]
	out[7] = 0

	out[8] = (sy * cx) * scale[2]
	out[9] = (-sx) * scale[2]
	out[10] = (cy * cx) * scale[2]
	out[11] = 0

	out[12] = pos[0]
	out[13] = pos[1]
	out[14] = pos[2]
	out[15] = 1
}

// Invert4 computes the inverse of a 4x4 column-major matrix using the Laplace
// expansion (cofactor) method. If the matrix is singular the output is left
// unchanged and the function returns false.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - m: source matrix (16 elements, column-major)
//
// Returns:
//   - bool: true if the matrix was successfully inverted, false if singular
func Invert4(out, m []float32) bool {
	s0 := m[0]*m[5] - m[4]*m[1]
	s1 := m[0]*m[6] - m[4]*m[2]
	s2 := m[0]*m[7] - m[4]*m[3]
	s3 := m[1]*m[6] - m[5]*m[2]
	s4 := m[1]*m[7] - m[5]*m[3]
	s5 := m[2]*m[7] - m[6]*m[3]

	c5 := m[10]*m[15] - m[14]*m[11]
	c4 := m[9]*m[15] - m[13]*m[11]
	c3 := m[9]*m[14] - m[13]*m[10]
	c2 := m[8]*m[15] - m[12]*m[11]
	c1 := m[8]*m[14] - m[12]*m[10]
	c0 := m[8]*m[13] - m[12]*m[9]

	det := s0*c5 - s1*c4 + s2*c3 + s3*c2 - s4*c1 + s5*c0
	if det == 0 {
		return false
	}

	invDet := 1.0 / det
	var buf [16]float32

	buf[0] = (m[5]*c5 - m[6]*c4 + m[7]*c3) * invDet
	buf[1] = (-m[1]*c5 + m[2]*c4 - m[3]*c3) * invDet
	buf[2] = (m[13]*s5 - m[14]*s4 + m[15]*s3) * invDet
	buf[3] = (-m[9]*s5 + m[10]*s4 - m[11]*s3) * invDet

	buf[4] = (-m[4]*c5 + m[6]*c2 - m[7]*c1) * invDet
	buf[5] = (m[0]*c5 - m[2]*c2 + m[3]*c1) * invDet
	buf[6] = (-m[12]*s5 + m[14]*s2 - m[15]*s1) * invDet
	buf[7] = (m[8]*s5 - m[10]*s2 + m[11]*s1) * invDet

	buf[8] = (m[4]*c4 - m[5]*c2 + m[7]*c0) * invDet
	buf[9] = (-m[0]*c4 + m[1]*c2 - m[3]*c0) * invDet
	buf[10] = (m[12]*s4 - m[13]*s2 + m[15]*s0) * invDet
	buf[11] = (-m[8]*s4 + m[9]*s2 - m[11]*s0) * invDet

	buf[12] = (-m[4]*c3 + m[5]*c1 - m[6]*c0) * invDet
	buf[13] = (m[0]*c3 - m[1]*c1 + m[2]*c0) * invDet
	buf[14] = (-m[12]*s3 + m[13]*s1 - m[14]*s0) * invDet
	buf[15] = (m[8]*s3 - m[9]*s1 + m[10]*s0) * invDet

	copy(out, buf[:])
	return true
}

// LookAt creates a view matrix that positions and orients the camera.
// The resulting matrix transforms world coordinates to view/camera space.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - eye: camera position in world space
//   - center: target point the camera looks at
//   - up: up vector defining camera orientation (typically 0,1,0)
func LookAt(out []float32, eye, center, up Vec3) {
	z := eye.Sub(center).Normalize()
	x := up.Cross(z).Normalize()
	y := z.Cross(x)

	out[0], out[4], out[8], out[12] = x[0], x[1], x[2], -x.Dot(eye)
	out[1], out[5], out[9], out[13] = y[0], y[1], y[2], -y.Dot(eye)
	out[2], out[6], out[10], out[14] = z[0], z[1], z[2], -z.Dot(eye)
	out[3], out[7], out[11], out[15] = 0, 0, 0, 1
}
