// Package camera holds the view the ray dispatch renders from. A camera derives its view
// and projection from an attached controller and counts its changes so the renderer can
// reset accumulation when the view moves.
package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/chewxy/math32"
)

type cameraImpl struct {
	mu sync.Mutex

	up     common.Vec3
	fov    float32
	aspect float32
	near   float32
	far    float32

	position common.Vec3
	target   common.Vec3

	view           [16]float32
	projection     [16]float32
	inverseView    [16]float32
	inverseProject [16]float32

	controller OrbitController
	version    uint64
}

// Camera defines the interface for the camera system.
type Camera interface {
	// Position returns the eye position in world space.
	Position() common.Vec3

	// Target returns the point the camera looks at.
	Target() common.Vec3

	// Up returns the camera's up vector.
	Up() common.Vec3

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// ViewMatrix returns the current view matrix (column-major).
	ViewMatrix() [16]float32

	// ProjectionMatrix returns the current projection matrix (column-major, [0, 1] depth).
	ProjectionMatrix() [16]float32

	// InverseViewMatrix returns the inverse of the view matrix.
	InverseViewMatrix() [16]float32

	// InverseProjectionMatrix returns the inverse of the projection matrix.
	InverseProjectionMatrix() [16]float32

	// Version returns a counter that increases every time the matrices change.
	//
	// Returns:
	//   - uint64: the change counter
	Version() uint64

	// LookAt places the camera at eye looking at target. Ignored while a controller is attached.
	//
	// Parameters:
	//   - eye: the eye position
	//   - target: the look-at point
	LookAt(eye, target common.Vec3)

	// SetFov sets the vertical field of view in radians.
	SetFov(fov float32)

	// SetAspect sets the aspect ratio, typically after a resize.
	SetAspect(aspect float32)

	// Controller returns the attached controller, or nil.
	Controller() OrbitController

	// SetController attaches a controller that drives position and target from now on.
	SetController(ctrl OrbitController)

	// Update pulls position and target from the controller and recomputes the matrices
	// when they moved. Does nothing without a controller.
	//
	// Returns:
	//   - bool: true if the matrices changed
	Update() bool
}

var _ Camera = &cameraImpl{}

// NewCamera creates a new Camera looking down -Z from (0, 0, 5).
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		up:       common.Vec3{0, 1, 0},
		fov:      45 * math32.Pi / 180,
		aspect:   1,
		near:     0.1,
		far:      1000,
		position: common.Vec3{0, 0, 5},
	}
	for _, option := range options {
		option(c)
	}
	if c.controller != nil {
		c.position = c.controller.Position()
		c.target = c.controller.Target()
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Position() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) Target() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *cameraImpl) Up() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) ViewMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *cameraImpl) ProjectionMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projection
}

func (c *cameraImpl) InverseViewMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverseView
}

func (c *cameraImpl) InverseProjectionMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverseProject
}

func (c *cameraImpl) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *cameraImpl) LookAt(eye, target common.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller != nil {
		return
	}
	c.position = eye
	c.target = target
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if aspect <= 0 || aspect == c.aspect {
		return
	}
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) Controller() OrbitController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl OrbitController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

func (c *cameraImpl) Update() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return false
	}
	pos, target := c.controller.Position(), c.controller.Target()
	if pos == c.position && target == c.target {
		return false
	}
	c.position = pos
	c.target = target
	c.updateMatrices()
	return true
}

// updateMatrices recomputes every matrix and bumps the version. Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	common.LookAt(c.view[:], c.position, c.target, c.up)
	common.Perspective(c.projection[:], c.fov, c.aspect, c.near, c.far)
	common.Invert4(c.inverseView[:], c.view[:])
	common.Invert4(c.inverseProject[:], c.projection[:])
	c.version++
}
