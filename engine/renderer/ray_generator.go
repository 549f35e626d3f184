package renderer

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// cameraRays generates pinhole primary rays from the inverse matrices of a UniformBlock,
// the same way the ray generation program does on the GPU.
type cameraRays struct {
	inverseView       [16]float32
	inverseProjection [16]float32
}

var _ device.RayGenerator = cameraRays{}

func newCameraRays(u *UniformBlock) cameraRays {
	return cameraRays{inverseView: u.InverseView, inverseProjection: u.InverseProjection}
}

// GenerateRay maps the pixel center to NDC, unprojects it onto the far plane and turns
// the view-space point into a world-space direction. The projection is y-flipped, so
// row 0 is the top of the image.
func (c cameraRays) GenerateRay(x, y, width, height uint32) common.Ray {
	ndcX := (float32(x)+0.5)/float32(width)*2 - 1
	ndcY := (float32(y)+0.5)/float32(height)*2 - 1

	target := transform(c.inverseProjection, [4]float32{ndcX, ndcY, 1, 1})
	if target[3] != 0 {
		target[0] /= target[3]
		target[1] /= target[3]
		target[2] /= target[3]
	}
	dir := transform(c.inverseView, [4]float32{target[0], target[1], target[2], 0})

	return common.Ray{
		Origin:    common.Vec3{c.inverseView[12], c.inverseView[13], c.inverseView[14]},
		Direction: common.Vec3{dir[0], dir[1], dir[2]}.Normalize(),
	}
}

// transform multiplies the column-major matrix m by v.
func transform(m [16]float32, v [4]float32) [4]float32 {
	var out [4]float32
	for row := 0; row < 4; row++ {
		out[row] = m[row]*v[0] + m[4+row]*v[1] + m[8+row]*v[2] + m[12+row]*v[3]
	}
	return out
}
