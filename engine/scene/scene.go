package scene

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/game_object"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// Scene is the live object graph. It turns its enabled objects into the instance list
// the top-level index is built from and reports every structural change (object added,
// removed, moved, shown or hidden) through a version counter and a mutation hook.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// Registry returns the asset registry the scene's objects index into.
	Registry() SceneAssetRegistry

	// Camera returns the scene's camera.
	Camera() camera.Camera

	// SetCamera replaces the scene's camera.
	SetCamera(cam camera.Camera)

	// Add adds an object and assigns it an ID if it has none.
	//
	// Parameters:
	//   - obj: the object to add
	//
	// Returns:
	//   - uint64: the object ID
	//   - error: a KindContractViolation GpuError if the object's mesh is not in the registry
	Add(obj game_object.GameObject) (uint64, error)

	// Get returns the object with id, or nil.
	Get(id uint64) game_object.GameObject

	// Remove removes the object with id.
	//
	// Returns:
	//   - bool: false if no such object exists
	Remove(id uint64) bool

	// Count returns the number of objects, enabled or not.
	Count() int

	// Objects returns every object in ID order.
	Objects() []game_object.GameObject

	// Instances snapshots the enabled objects, in ID order, as instances.
	//
	// Returns:
	//   - []Instance: one instance per enabled object
	Instances() []Instance

	// Advance applies every object's rotation speed over dt seconds.
	Advance(dt float32)

	// Version returns a counter increased by every structural change.
	Version() uint64

	// SetOnMutation installs the hook called after every structural change.
	SetOnMutation(fn func())

	// Clear removes every object.
	Clear()
}

type scene struct {
	mu     sync.Mutex
	logger logger.Logger

	name     string
	registry SceneAssetRegistry
	camera   camera.Camera

	objects map[uint64]game_object.GameObject
	nextID  uint64
	version uint64

	onMutation func()
}

var _ Scene = &scene{}

// NewScene creates an empty scene.
//
// Parameters:
//   - registry: the registry object mesh indices refer to
//   - options: variadic list of SceneBuilderOption functions
//
// Returns:
//   - Scene: the new scene
func NewScene(registry SceneAssetRegistry, options ...SceneBuilderOption) Scene {
	s := &scene{
		logger:   logger.New("scene"),
		name:     "scene",
		registry: registry,
		objects:  make(map[uint64]game_object.GameObject),
		nextID:   1,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.camera == nil {
		s.camera = camera.NewCamera()
	}
	return s
}

func (s *scene) Name() string { return s.name }

func (s *scene) Registry() SceneAssetRegistry { return s.registry }

func (s *scene) Camera() camera.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *scene) SetCamera(cam camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = cam
}

func (s *scene) Add(obj game_object.GameObject) (uint64, error) {
	if _, err := s.registry.Mesh(obj.MeshIndex()); err != nil {
		return 0, fmt.Errorf("add object to %q: %w", s.name, err)
	}

	s.mu.Lock()
	id := obj.ID()
	if id == 0 {
		id = s.nextID
		obj.SetID(id)
	}
	if _, dup := s.objects[id]; dup {
		s.mu.Unlock()
		return 0, device.NewError(device.KindContractViolation, "scene", "add object", fmt.Errorf("object id %d already in %q", id, s.name))
	}
	if id >= s.nextID {
		s.nextID = id + 1
	}
	s.objects[id] = obj
	s.mu.Unlock()

	obj.SetOnChange(s.mutated)
	s.mutated()
	return id, nil
}

func (s *scene) Get(id uint64) game_object.GameObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id]
}

func (s *scene) Remove(id uint64) bool {
	s.mu.Lock()
	obj, ok := s.objects[id]
	delete(s.objects, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	obj.SetOnChange(nil)
	s.mutated()
	return true
}

func (s *scene) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *scene) Objects() []game_object.GameObject {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]game_object.GameObject, len(ids))
	for i, id := range ids {
		out[i] = s.objects[id]
	}
	s.mu.Unlock()
	return out
}

func (s *scene) Instances() []Instance {
	objects := s.Objects()
	out := make([]Instance, 0, len(objects))
	for _, obj := range objects {
		if !obj.Enabled() {
			continue
		}
		group := ShadingGroupTriangles
		if m, err := s.registry.Mesh(obj.MeshIndex()); err == nil {
			group = m.Kind.ShadingGroup()
		}
		out = append(out, Instance{
			MeshIndex:    obj.MeshIndex(),
			Transform:    obj.ModelMatrix(),
			ShadingGroup: group,
			Mask:         0xFF,
		})
	}
	return out
}

func (s *scene) Advance(dt float32) {
	for _, obj := range s.Objects() {
		obj.Advance(dt)
	}
}

func (s *scene) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *scene) SetOnMutation(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMutation = fn
}

func (s *scene) Clear() {
	s.mu.Lock()
	objects := s.objects
	s.objects = make(map[uint64]game_object.GameObject)
	s.mu.Unlock()
	for _, obj := range objects {
		obj.SetOnChange(nil)
	}
	if len(objects) > 0 {
		s.mutated()
	}
}

// mutated bumps the version and calls the mutation hook outside the lock.
func (s *scene) mutated() {
	s.mu.Lock()
	s.version++
	fn := s.onMutation
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
