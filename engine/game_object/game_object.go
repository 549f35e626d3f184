// Package game_object holds the live entities of a scene. Each object places one mesh of
// the asset registry in the world; the scene turns the enabled objects into the instance
// list the top-level index is built from.
package game_object

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

type gameObject struct {
	mu sync.Mutex

	id        uint64
	enabled   bool
	meshIndex int

	position      common.Vec3
	rotation      common.Vec3
	scale         common.Vec3
	rotationSpeed common.Vec3

	onChange func()
}

// GameObject defines the interface for a scene entity placing one mesh in the world.
// Every change that alters the world transform or visibility is reported to the
// change hook installed by the owning scene.
type GameObject interface {
	// ID returns the object's unique identifier, or zero before it is added to a scene.
	ID() uint64

	// SetID sets the object's unique identifier.
	SetID(id uint64)

	// Enabled returns whether the object contributes an instance.
	Enabled() bool

	// SetEnabled shows or hides the object.
	SetEnabled(enabled bool)

	// MeshIndex returns the registry index of the mesh the object places.
	//
	// Returns:
	//   - int: the mesh index
	MeshIndex() int

	// Position returns the world position.
	Position() common.Vec3

	// SetPosition moves the object.
	SetPosition(pos common.Vec3)

	// Rotation returns the Euler rotation in radians (applied Y, X, Z).
	Rotation() common.Vec3

	// SetRotation rotates the object.
	SetRotation(rot common.Vec3)

	// Scale returns the per-axis scale.
	Scale() common.Vec3

	// SetScale scales the object.
	SetScale(scale common.Vec3)

	// RotationSpeed returns the rotation applied per second by Advance.
	RotationSpeed() common.Vec3

	// SetRotationSpeed sets the rotation applied per second by Advance.
	SetRotationSpeed(speed common.Vec3)

	// Advance applies the rotation speed over dt seconds.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	//
	// Returns:
	//   - bool: true if the transform changed
	Advance(dt float32) bool

	// ModelMatrix returns the column-major world transform.
	//
	// Returns:
	//   - [16]float32: translation * rotation * scale
	ModelMatrix() [16]float32

	// SetOnChange installs the hook called after every transform or visibility change.
	// Pass nil to remove it.
	SetOnChange(fn func())
}

var _ GameObject = &gameObject{}

// NewGameObject creates a new enabled GameObject placing meshIndex at the origin.
//
// Parameters:
//   - meshIndex: the registry index of the mesh to place
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(meshIndex int, options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		enabled:   true,
		meshIndex: meshIndex,
		scale:     common.Vec3{1, 1, 1},
	}
	for _, option := range options {
		option(obj)
	}
	return obj
}

func (g *gameObject) ID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

func (g *gameObject) SetID(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id = id
}

func (g *gameObject) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *gameObject) SetEnabled(enabled bool) {
	g.update(func() bool {
		if g.enabled == enabled {
			return false
		}
		g.enabled = enabled
		return true
	})
}

func (g *gameObject) MeshIndex() int {
	return g.meshIndex
}

func (g *gameObject) Position() common.Vec3 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position
}

func (g *gameObject) SetPosition(pos common.Vec3) {
	g.update(func() bool { return set(&g.position, pos) })
}

func (g *gameObject) Rotation() common.Vec3 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotation
}

func (g *gameObject) SetRotation(rot common.Vec3) {
	g.update(func() bool { return set(&g.rotation, rot) })
}

func (g *gameObject) Scale() common.Vec3 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scale
}

func (g *gameObject) SetScale(scale common.Vec3) {
	g.update(func() bool { return set(&g.scale, scale) })
}

func (g *gameObject) RotationSpeed() common.Vec3 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotationSpeed
}

func (g *gameObject) SetRotationSpeed(speed common.Vec3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotationSpeed = speed
}

func (g *gameObject) Advance(dt float32) bool {
	return g.update(func() bool {
		if g.rotationSpeed == (common.Vec3{}) || dt == 0 {
			return false
		}
		g.rotation = g.rotation.Add(g.rotationSpeed.Scale(dt))
		return true
	})
}

func (g *gameObject) ModelMatrix() [16]float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var m [16]float32
	common.BuildModelMatrix(m[:], g.position, g.rotation, g.scale)
	return m
}

func (g *gameObject) SetOnChange(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// update applies mutate under the lock and calls the change hook outside it.
func (g *gameObject) update(mutate func() bool) bool {
	g.mu.Lock()
	changed := mutate()
	fn := g.onChange
	g.mu.Unlock()
	if changed && fn != nil {
		fn()
	}
	return changed
}

func set(dst *common.Vec3, v common.Vec3) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}
