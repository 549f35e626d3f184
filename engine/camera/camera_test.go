package camera

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestCameraVersionTracksChanges(t *testing.T) {
	c := NewCamera(WithLookAt(common.Vec3{0, 0, 5}, common.Vec3{}))
	v := c.Version()

	c.SetAspect(c.Aspect())
	assert.Equal(t, v, c.Version(), "same aspect is not a change")

	c.SetAspect(2)
	assert.Equal(t, v+1, c.Version())

	c.LookAt(common.Vec3{1, 2, 3}, common.Vec3{})
	assert.Equal(t, v+2, c.Version())
	assert.Equal(t, common.Vec3{1, 2, 3}, c.Position())

	// no controller, nothing to pull
	assert.False(t, c.Update())
}

func TestViewInverseRoundTrip(t *testing.T) {
	c := NewCamera(WithLookAt(common.Vec3{3, 4, 5}, common.Vec3{0, 1, 0}))
	view := c.ViewMatrix()
	inv := c.InverseViewMatrix()

	var m [16]float32
	common.Mul4(m[:], view[:], inv[:])
	id := common.IdentityMatrix()
	for i := range m {
		assert.InDelta(t, id[i], m[i], 1e-5)
	}
	// the inverse view maps the origin to the eye
	assert.InDelta(t, 3, inv[12], 1e-5)
	assert.InDelta(t, 4, inv[13], 1e-5)
	assert.InDelta(t, 5, inv[14], 1e-5)
}

func TestOrbitControllerDrivesCamera(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(4), WithAngles(0, 0), WithSpeeds(math32.Pi/2, 1))
	c := NewCamera(WithController(ctrl))

	pos := c.Position()
	assert.InDelta(t, 0, pos[0], 1e-5)
	assert.InDelta(t, 4, pos[2], 1e-5)

	assert.False(t, c.Update())
	v := c.Version()

	ctrl.OrbitRight()
	assert.True(t, c.Update())
	assert.Equal(t, v+1, c.Version())
	pos = c.Position()
	assert.InDelta(t, 4, pos[0], 1e-4)
	assert.InDelta(t, 0, pos[2], 1e-4)

	// LookAt is ignored while a controller is attached
	c.LookAt(common.Vec3{9, 9, 9}, common.Vec3{})
	assert.Equal(t, pos, c.Position())
}

func TestOrbitControllerClamps(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(2), WithRadiusBounds(1, 3))
	ctrl.Zoom(5)
	assert.Equal(t, float32(1), ctrl.Radius())
	ctrl.Zoom(-10)
	assert.Equal(t, float32(3), ctrl.Radius())

	ctrl.Orbit(0, 10)
	pos := ctrl.Position()
	assert.Less(t, pos[1], float32(3))
	assert.Greater(t, pos[1], float32(2.9))
}
