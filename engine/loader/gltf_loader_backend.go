package loader

import (
	"io"

	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// gltfLoaderBackendImpl adapts the glTF importer to the loaderBackend interface.
type gltfLoaderBackendImpl struct {
	importer gltfImporter
}

var _ loaderBackend = &gltfLoaderBackendImpl{}

// newGLTFLoaderBackend creates a backend for .gltf and .glb files.
//
// Parameters:
//   - l: the logger used for recoverable texture problems
//
// Returns:
//   - loaderBackend: the backend
func newGLTFLoaderBackend(l logger.Logger) loaderBackend {
	return &gltfLoaderBackendImpl{importer: newGLTFImporter(l)}
}

func (b *gltfLoaderBackendImpl) Load(path string) (*scene.Mesh, error) {
	return b.importer.Import(path)
}

func (b *gltfLoaderBackendImpl) LoadReader(r io.Reader, baseDir string) (*scene.Mesh, error) {
	return b.importer.ImportReader(r, baseDir)
}
