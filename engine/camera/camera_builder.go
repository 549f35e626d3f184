package camera

import "github.com/Carmen-Shannon/oxy-rt/common"

// CameraBuilderOption is a functional option for configuring a Camera.
type CameraBuilderOption func(*cameraImpl)

// WithUp sets the camera's up vector.
//
// Parameters:
//   - up: the up vector
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithUp(up common.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.up = up
	}
}

// WithFov sets the vertical field of view in radians.
func WithFov(fov float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.fov = fov
	}
}

// WithAspect sets the aspect ratio (width / height).
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.aspect = aspect
	}
}

// WithClipPlanes sets the near and far clipping planes.
//
// Parameters:
//   - near: near plane distance, greater than zero
//   - far: far plane distance, greater than near
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithClipPlanes(near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.near = near
		c.far = far
	}
}

// WithLookAt places the camera at eye looking at target.
func WithLookAt(eye, target common.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.position = eye
		c.target = target
	}
}

// WithController attaches a controller. Its position and target override WithLookAt.
//
// Parameters:
//   - ctrl: the controller to attach
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithController(ctrl OrbitController) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.controller = ctrl
	}
}
