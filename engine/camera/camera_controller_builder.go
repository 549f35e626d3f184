package camera

import "github.com/Carmen-Shannon/oxy-rt/common"

// CameraControllerOption is a functional option for configuring an OrbitController.
type CameraControllerOption func(*orbitController)

// WithRadius sets the initial orbit radius (distance from target).
//
// Parameters:
//   - radius: distance from the orbit target
//
// Returns:
//   - CameraControllerOption: functional option to set the radius
func WithRadius(radius float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.radius = radius
	}
}

// WithAngles sets the initial azimuth (around +Y, 0 = +Z) and elevation in radians.
func WithAngles(azimuth, elevation float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.azimuth = azimuth
		cc.elevation = elevation
	}
}

// WithTarget sets the orbit pivot.
func WithTarget(target common.Vec3) CameraControllerOption {
	return func(cc *orbitController) {
		cc.target = target
	}
}

// WithRadiusBounds sets the minimum and maximum orbit radius.
//
// Parameters:
//   - min: the closest allowed distance
//   - max: the farthest allowed distance
//
// Returns:
//   - CameraControllerOption: functional option to set the bounds
func WithRadiusBounds(min, max float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.minRadius = min
		cc.maxRadius = max
	}
}

// WithSpeeds sets the per-step orbit angle and the zoom multiplier.
func WithSpeeds(orbit, zoom float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.orbitSpeed = orbit
		cc.zoomSpeed = zoom
	}
}
