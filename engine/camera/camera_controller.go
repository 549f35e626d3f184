package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/chewxy/math32"
)

// OrbitController moves a camera on a sphere around a target point.
type OrbitController interface {
	// Position returns the eye position derived from the spherical coordinates.
	Position() common.Vec3

	// Target returns the orbit pivot.
	Target() common.Vec3

	// SetTarget moves the pivot, keeping radius and angles.
	SetTarget(target common.Vec3)

	// Orbit rotates around the target by the given angle deltas in radians.
	// Elevation is clamped to the configured bounds.
	//
	// Parameters:
	//   - dAzimuth: change of the horizontal angle
	//   - dElevation: change of the vertical angle
	Orbit(dAzimuth, dElevation float32)

	// OrbitLeft, OrbitRight, OrbitUp and OrbitDown step by the orbit speed.
	OrbitLeft()
	OrbitRight()
	OrbitUp()
	OrbitDown()

	// Zoom moves toward (positive delta) or away from the target, clamped to the radius bounds.
	Zoom(delta float32)

	// Radius returns the distance to the target.
	Radius() float32
}

type orbitController struct {
	mu sync.Mutex

	target    common.Vec3
	radius    float32
	azimuth   float32
	elevation float32

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	orbitSpeed float32
	zoomSpeed  float32
}

var _ OrbitController = &orbitController{}

// NewOrbitController creates an orbit controller 10 units from the origin.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - OrbitController: the newly created controller
func NewOrbitController(options ...CameraControllerOption) OrbitController {
	cc := &orbitController{
		radius:       10,
		elevation:    math32.Pi / 6,
		minRadius:    0.5,
		maxRadius:    500,
		minElevation: -math32.Pi/2 + 0.05,
		maxElevation: math32.Pi/2 - 0.05,
		orbitSpeed:   0.03,
		zoomSpeed:    1,
	}
	for _, option := range options {
		option(cc)
	}
	cc.clamp()
	return cc
}

func (cc *orbitController) Position() common.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cosElev, sinElev := math32.Cos(cc.elevation), math32.Sin(cc.elevation)
	cosAzim, sinAzim := math32.Cos(cc.azimuth), math32.Sin(cc.azimuth)
	return cc.target.Add(common.Vec3{
		cc.radius * cosElev * sinAzim,
		cc.radius * sinElev,
		cc.radius * cosElev * cosAzim,
	})
}

func (cc *orbitController) Target() common.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target
}

func (cc *orbitController) SetTarget(target common.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = target
}

func (cc *orbitController) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth += dAzimuth
	cc.elevation += dElevation
	cc.clamp()
}

func (cc *orbitController) OrbitLeft()  { cc.Orbit(-cc.orbitSpeed, 0) }
func (cc *orbitController) OrbitRight() { cc.Orbit(cc.orbitSpeed, 0) }
func (cc *orbitController) OrbitUp()    { cc.Orbit(0, cc.orbitSpeed) }
func (cc *orbitController) OrbitDown()  { cc.Orbit(0, -cc.orbitSpeed) }

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius -= delta * cc.zoomSpeed
	cc.clamp()
}

func (cc *orbitController) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}

// clamp keeps radius and elevation inside their bounds. Caller must hold the mutex.
func (cc *orbitController) clamp() {
	cc.radius = math32.Max(cc.minRadius, math32.Min(cc.maxRadius, cc.radius))
	cc.elevation = math32.Max(cc.minElevation, math32.Min(cc.maxElevation, cc.elevation))
}
