package scene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// MeshLoader reads a mesh from a file.
type MeshLoader interface {
	LoadMesh(path string) (*Mesh, error)
}

// ErrRegistryReleased is returned by a registry after Release.
var ErrRegistryReleased = errors.New("asset registry has been released")

// SceneAssetRegistry assigns stable mesh indices to unique sources. A source is loaded
// once; every later request for the same file path or shape tag returns the same index.
type SceneAssetRegistry interface {
	// Load returns the mesh index of source, loading or generating the mesh on first use.
	//
	// Parameters:
	//   - source: a file path or a generated shape tag (see IsShapeTag)
	//
	// Returns:
	//   - int: the stable mesh index
	//   - error: if the source cannot be loaded or the mesh is malformed
	Load(source string) (int, error)

	// Register adds an already built mesh under key. Registering a key twice returns the
	// first index and ignores the new mesh.
	//
	// Parameters:
	//   - key: the dedupe key
	//   - m: the mesh; its Name and Index are overwritten
	//
	// Returns:
	//   - int: the stable mesh index
	//   - error: if the mesh is malformed
	Register(key string, m *Mesh) (int, error)

	// Lookup returns the index registered for key.
	Lookup(key string) (int, bool)

	// Mesh returns the mesh at index.
	//
	// Returns:
	//   - *Mesh: the mesh
	//   - error: a KindContractViolation GpuError for an index outside the registry
	Mesh(index int) (*Mesh, error)

	// Meshes returns every mesh in index order.
	Meshes() []*Mesh

	// Len returns the number of registered meshes.
	Len() int

	// Release drops every mesh. The registry rejects further loads.
	Release()
}

type sceneAssetRegistry struct {
	mu     sync.Mutex
	logger logger.Logger
	loader MeshLoader

	meshes   []*Mesh
	byKey    map[string]int
	released bool
}

var _ SceneAssetRegistry = &sceneAssetRegistry{}

// NewSceneAssetRegistry creates an empty registry.
//
// Parameters:
//   - options: variadic list of SceneAssetRegistryBuilderOption functions
//
// Returns:
//   - SceneAssetRegistry: the new registry
func NewSceneAssetRegistry(options ...SceneAssetRegistryBuilderOption) SceneAssetRegistry {
	r := &sceneAssetRegistry{
		logger: logger.New("scene"),
		byKey:  make(map[string]int),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// SceneAssetRegistryBuilderOption configures a SceneAssetRegistry.
type SceneAssetRegistryBuilderOption func(*sceneAssetRegistry)

// WithMeshLoader sets the loader used for file sources. Without one only shape tags load.
//
// Parameters:
//   - l: the loader
//
// Returns:
//   - SceneAssetRegistryBuilderOption: option function to apply
func WithMeshLoader(l MeshLoader) SceneAssetRegistryBuilderOption {
	return func(r *sceneAssetRegistry) {
		r.loader = l
	}
}

func (r *sceneAssetRegistry) Load(source string) (int, error) {
	if idx, ok := r.Lookup(source); ok {
		return idx, nil
	}

	var m *Mesh
	var err error
	switch {
	case IsShapeTag(source):
		m, err = GenerateShape(source)
	case r.loader == nil:
		err = fmt.Errorf("no mesh loader for %q", source)
	default:
		m, err = r.loader.LoadMesh(source)
	}
	if err != nil {
		return -1, fmt.Errorf("failed to load %q: %w", source, err)
	}
	return r.Register(source, m)
}

func (r *sceneAssetRegistry) Register(key string, m *Mesh) (int, error) {
	if m == nil {
		return -1, fmt.Errorf("register %q: mesh is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return -1, ErrRegistryReleased
	}
	if idx, ok := r.byKey[key]; ok {
		return idx, nil
	}

	m.Name = key
	if err := m.Validate(); err != nil {
		return -1, err
	}
	m.Index = len(r.meshes)
	r.meshes = append(r.meshes, m)
	r.byKey[key] = m.Index
	r.logger.Debugf("registered mesh %d %q (%s, %d vertices, %d triangles)",
		m.Index, key, m.Kind, len(m.Vertices), m.TriangleCount())
	return m.Index, nil
}

func (r *sceneAssetRegistry) Lookup(key string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byKey[key]
	return idx, ok
}

func (r *sceneAssetRegistry) Mesh(index int) (*Mesh, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.meshes) {
		return nil, device.NewError(device.KindContractViolation, "scene", "lookup mesh",
			fmt.Errorf("mesh index %d outside registry of %d", index, len(r.meshes)))
	}
	return r.meshes[index], nil
}

func (r *sceneAssetRegistry) Meshes() []*Mesh {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Mesh(nil), r.meshes...)
}

func (r *sceneAssetRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meshes)
}

func (r *sceneAssetRegistry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meshes = nil
	r.byKey = nil
	r.released = true
}
