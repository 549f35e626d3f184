package game_object

import "github.com/Carmen-Shannon/oxy-rt/common"

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithEnabled sets whether the GameObject contributes an instance.
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.enabled = enabled
	}
}

// WithPosition sets the initial world position.
//
// Parameters:
//   - pos: the position
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(pos common.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = pos
	}
}

// WithRotation sets the initial Euler rotation in radians.
func WithRotation(rot common.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotation = rot
	}
}

// WithScale sets the initial per-axis scale.
func WithScale(scale common.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = scale
	}
}

// WithRotationSpeed sets the rotation applied per second by Advance.
//
// Parameters:
//   - speed: radians per second around each axis
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation speed
func WithRotationSpeed(speed common.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotationSpeed = speed
	}
}
