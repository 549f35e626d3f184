package loader

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// ErrUnsupportedFormat is returned for files whose extension no backend reads.
var ErrUnsupportedFormat = errors.New("unsupported mesh format")

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.Mutex

	logger   logger.Logger
	backends map[Format]loaderBackend

	workers  int
	pool     worker.DynamicWorkerPool
	ownsPool bool
}

// Loader reads mesh files into scene meshes. It satisfies scene.MeshLoader, so it can be
// handed to a SceneAssetRegistry, and it can load a batch of files in parallel.
type Loader interface {
	scene.MeshLoader

	// LoadReader reads a mesh from a stream.
	//
	// Parameters:
	//   - r: the reader providing file data
	//   - format: the file format of the stream
	//   - baseDir: directory used for relative resources (material libraries, images)
	//
	// Returns:
	//   - *scene.Mesh: the mesh with Index -1
	//   - error: ErrUnsupportedFormat or a parse error
	LoadReader(r io.Reader, format Format, baseDir string) (*scene.Mesh, error)

	// LoadAll registers every source with the registry. Shape tags and sources the
	// registry already knows are resolved directly; the remaining files are parsed in
	// parallel on the worker pool and registered in source order, so mesh indices do not
	// depend on which parse finishes first.
	//
	// Parameters:
	//   - registry: the registry that assigns mesh indices
	//   - sources: file paths or shape tags, duplicates allowed
	//
	// Returns:
	//   - []int: the mesh index of each source, parallel to sources
	//   - error: the first failure in source order
	LoadAll(registry scene.SceneAssetRegistry, sources []string) ([]int, error)

	// Release stops the worker pool if the loader created it.
	Release()
}

var _ Loader = &loader{}

// NewLoader creates a Loader with the OBJ and glTF backends.
//
// Parameters:
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: the configured loader
func NewLoader(options ...LoaderBuilderOption) Loader {
	l := &loader{
		logger:  logger.New("loader"),
		workers: 4,
	}
	l.backends = map[Format]loaderBackend{
		FormatOBJ:  newOBJLoaderBackend(l.logger),
		FormatGLTF: newGLTFLoaderBackend(l.logger),
	}

	for _, option := range options {
		option(l)
	}
	if l.pool == nil {
		l.pool = worker.NewDynamicWorkerPool(l.workers, 64, 1*time.Second)
		l.ownsPool = true
	}
	return l
}

func (l *loader) LoadMesh(path string) (*scene.Mesh, error) {
	backend, ok := l.backends[FormatOf(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	start := time.Now()
	m, err := backend.Load(path)
	if err != nil {
		return nil, err
	}
	l.logger.Debugf("loaded %s: %d vertices, %d triangles, %d materials, %d textures in %d ms",
		path, len(m.Vertices), m.TriangleCount(), len(m.Materials), len(m.Textures), time.Since(start).Milliseconds())
	return m, nil
}

func (l *loader) LoadReader(r io.Reader, format Format, baseDir string) (*scene.Mesh, error) {
	backend, ok := l.backends[format]
	if !ok {
		return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
	}
	return backend.LoadReader(r, baseDir)
}

func (l *loader) LoadAll(registry scene.SceneAssetRegistry, sources []string) ([]int, error) {
	type result struct {
		mesh *scene.Mesh
		err  error
	}

	// parse each unknown file once
	pending := make(map[string]*result)
	var order []string
	for _, src := range sources {
		if scene.IsShapeTag(src) {
			continue
		}
		if _, known := registry.Lookup(src); known {
			continue
		}
		if _, queued := pending[src]; !queued {
			pending[src] = &result{}
			order = append(order, src)
		}
	}

	l.mu.Lock()
	pool := l.pool
	l.mu.Unlock()
	if pool == nil && len(order) > 0 {
		return nil, fmt.Errorf("loader has been released")
	}

	var wg sync.WaitGroup
	for i, src := range order {
		wg.Add(1)
		res := pending[src]
		path := src
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				res.mesh, res.err = l.LoadMesh(path)
				return nil, res.err
			},
		})
	}
	wg.Wait()

	indices := make([]int, len(sources))
	for i, src := range sources {
		var err error
		switch res, ok := pending[src]; {
		case !ok:
			indices[i], err = registry.Load(src)
		case res.err != nil:
			err = res.err
		default:
			indices[i], err = registry.Register(src, res.mesh)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %q: %w", src, err)
		}
	}

	l.logger.Infof("loaded %d sources (%d files parsed)", len(sources), len(order))
	return indices, nil
}

func (l *loader) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownsPool && l.pool != nil {
		l.pool.Stop()
	}
	l.pool = nil
}
