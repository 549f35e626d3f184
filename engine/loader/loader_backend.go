package loader

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// Format identifies a mesh file format.
type Format int

const (
	// FormatUnknown is returned for extensions no backend reads.
	FormatUnknown Format = iota
	// FormatOBJ selects the Wavefront OBJ backend.
	FormatOBJ
	// FormatGLTF selects the glTF/GLB backend.
	FormatGLTF
)

func (f Format) String() string {
	switch f {
	case FormatOBJ:
		return "obj"
	case FormatGLTF:
		return "gltf"
	default:
		return "unknown"
	}
}

// FormatOf picks the format from a file extension.
//
// Parameters:
//   - path: the file path
//
// Returns:
//   - Format: the format, or FormatUnknown
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		return FormatOBJ
	case ".gltf", ".glb":
		return FormatGLTF
	default:
		return FormatUnknown
	}
}

// loaderBackend reads one file format into a scene mesh. Backends never assign the
// mesh index; that is the registry's job.
type loaderBackend interface {
	// Load reads the file at path. Relative resources resolve against its directory.
	//
	// Parameters:
	//   - path: the file path to load
	//
	// Returns:
	//   - *scene.Mesh: the mesh with Index -1
	//   - error: error if loading fails
	Load(path string) (*scene.Mesh, error)

	// LoadReader reads a stream.
	//
	// Parameters:
	//   - r: the reader providing file data
	//   - baseDir: the directory relative resources resolve against
	//
	// Returns:
	//   - *scene.Mesh: the mesh with Index -1
	//   - error: error if loading fails
	LoadReader(r io.Reader, baseDir string) (*scene.Mesh, error)
}
